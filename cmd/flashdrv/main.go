// Command flashdrv is the device-configuration demo front-end (spec §6
// "CLI surface"): Init -> ScanEnterFlashloader -> ScanGetInfo ->
// ConfigureDevice -> ResetSystem against a CAN bus.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	flashdrv "github.com/openflashdrv/flashdrv"
	"github.com/openflashdrv/flashdrv/pkg/devconfig"
	"github.com/openflashdrv/flashdrv/pkg/opensyde"
	can "github.com/openflashdrv/flashdrv/pkg/transport/can"
)

// logReporter adapts logrus to flashdrv.Reporter (spec §9 DESIGN NOTES:
// "a single reporter capability passed by reference").
type logReporter struct{}

func (logReporter) Progress(permille int) flashdrv.Verdict {
	log.Debugf("progress: %d/1000", permille)
	return flashdrv.Continue
}
func (logReporter) Info(msg string, fields ...any)  { log.Infof(msg, fields...) }
func (logReporter) Warn(msg string, fields ...any)  { log.Warnf(msg, fields...) }
func (logReporter) Error(msg string, fields ...any) { log.Errorf(msg, fields...) }

func configureLogging() {
	switch os.Getenv("LOG_LEVEL") {
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warnf("could not open LOG_FILE %q: %v", path, err)
			return
		}
		log.SetOutput(f)
		log.SetReportCaller(true)
	}
}

func main() {
	configureLogging()

	channel := flag.String("dll", "vcan0", "CAN channel/device name")
	bitrate := flag.Int("bitrate", 500, "CAN bitrate in kbit/s")
	newID := flag.Int("new-id", -1, "reassign the discovered node to this node ID")
	newBitrate := flag.Int("new-bitrate", -1, "reassign the discovered node to this bitrate (kbit/s)")
	iface := flag.Int("interface", 0, "interface index to configure")
	flag.Parse()

	os.Exit(run(*channel, *bitrate, *newID, *newBitrate, *iface))
}

// run executes the device-config sequence and returns the exit code: 0 on
// success, otherwise the first failing step's Result (spec §6 "Exit
// codes: 0 = success, non-zero = first failing step's status code").
func run(channel string, bitrateKbps int, newID int, newBitrate int, ifaceIdx int) int {
	bus, err := flashdrv.NewBus("socketcan", channel)
	if err != nil {
		bus, err = can.NewVirtualBus(channel)
	}
	if err != nil {
		log.Errorf("open bus %q: %v", channel, err)
		return int(flashdrv.ConfigError)
	}
	disp := flashdrv.NewDispatcher(bus)

	reporter := logReporter{}
	canBroadcastTP := opensyde.NewCANTP(disp)
	broadcast := opensyde.NewCANBroadcastClient(canBroadcastTP)

	dial := func(nodeID uint8) (*opensyde.Client, error) {
		tp := opensyde.NewCANTP(disp)
		tp.SetClientID(0, 126)
		tp.SetServerID(0, nodeID)
		return opensyde.NewClient(tp, nil), nil
	}

	seq := devconfig.New(disp, broadcast, dial, reporter)

	if err := seq.Init(bitrateKbps); err != nil {
		log.Errorf("init: %v", err)
		return int(flashdrv.AsResult(err))
	}
	if err := seq.ScanEnterFlashloader(2000); err != nil {
		log.Errorf("scan enter flashloader: %v", err)
		return int(flashdrv.AsResult(err))
	}
	devices, err := seq.ScanGetInfo()
	if err != nil {
		log.Errorf("scan get info: %v", err)
		return int(flashdrv.AsResult(err))
	}
	for _, d := range devices {
		fmt.Printf("node=%d serial=%s name=%q duplicate=%v security=%v\n",
			d.NodeID, d.Serial.Format(true), d.DeviceName, d.Duplicate, d.SecurityActive)
	}

	if newID >= 0 && len(devices) > 0 {
		target := devices[0]
		bitrate := bitrateKbps
		if newBitrate >= 0 {
			bitrate = newBitrate
		}
		if err := seq.ConfigureDevice(target.NodeID, uint8(newID), bitrate, ifaceIdx); err != nil {
			log.Errorf("configure device: %v", err)
			return int(flashdrv.AsResult(err))
		}
	}

	if err := seq.ResetSystem(); err != nil {
		log.Errorf("reset system: %v", err)
		return int(flashdrv.AsResult(err))
	}
	return 0
}
