package model

// DeviceInfoBlock is the project/application metadata structure read
// from a device-reported flash address (spec §3 "Device-info block").
// The exact field set is project-defined; this host treats it as a set
// of named strings (a map, so field order is not kept) read from the
// addresses the server
// itself enumerates, rather than hard-coding a fixed schema.
type DeviceInfoBlock struct {
	Address uint32
	Fields  map[string]string
}

func NewDeviceInfoBlock(address uint32) *DeviceInfoBlock {
	return &DeviceInfoBlock{Address: address, Fields: make(map[string]string)}
}

func (d *DeviceInfoBlock) Set(name, value string) {
	d.Fields[name] = value
}

func (d *DeviceInfoBlock) Get(name string) (string, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// Route is the ordered list of gateway hops connecting the client bus to
// a target node (spec §3 "Routing route"). Each point defines a routing
// activation and, if the hop's endpoint speaks STW, a legacy-dispatcher
// insertion (§4.3).
type RoutePoint struct {
	NodeIndex    int
	InInterface  int
	OutInterface int
}

type Route struct {
	Points []RoutePoint
}

func (r Route) IsDirect() bool { return len(r.Points) == 0 }

func (r Route) LastHop() (RoutePoint, bool) {
	if len(r.Points) == 0 {
		return RoutePoint{}, false
	}
	return r.Points[len(r.Points)-1], true
}
