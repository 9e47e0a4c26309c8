package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/opensleep/podcore/internal/app"
	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/config"
	"github.com/opensleep/podcore/internal/i2cdevices"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/mqttbridge"
	"github.com/opensleep/podcore/internal/serialport"
)

const defaultConfigPath = "/etc/podcore/config.yaml"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the podcore daemon",
	Long: `Start the podcore daemon: open the Frozen and Sensor serial links,
connect to the MQTT broker, and (unless --no-hardware is set) drive the
I²C LED and GPIO expander.`,
	Run: runMain,
}

func init() {
	runCmd.Flags().String("config", defaultConfigPath, "path to config.yaml")
	runCmd.Flags().Bool("no-hardware", false, "disable the I²C LED/GPIO expander (bench/dev mode)")
	runCmd.Flags().String("i2c-bus", "", "I²C bus name for i2creg.Open; empty picks the first available bus")
	runCmd.Flags().String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on; empty disables it")
}

func runMain(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	configPath, _ := cmd.Flags().GetString("config")
	noHardware, _ := cmd.Flags().GetBool("no-hardware")
	i2cBusName, _ := cmd.Flags().GetString("i2c-bus")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	store := config.NewStore(configPath)
	if err := store.Load(); err != nil {
		logger.Error("podcore: load config: %v", err)
		os.Exit(1)
	}
	cfg := store.Get()

	reg := metrics.New()

	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Warn("podcore: metrics server: %v", err)
			}
		}()
	}

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "podcore-" + uuid.NewString()
	}
	mqttClient := mqttbridge.NewPahoClient(mqttbridge.ClientOptions{
		Broker:            cfg.MQTT.Broker,
		ClientID:          clientID,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		QoS:               cfg.MQTT.QoS,
		AvailabilityTopic: mqttbridge.TopicAvailability,
	})

	hw := app.Hardware{}
	if !noHardware {
		hw = openHardware(i2cBusName)
	}

	a := app.New(app.Options{
		Store:      store,
		Metrics:    reg,
		MQTTClient: mqttClient,
		Device: mqttbridge.Device{
			Name:    clientID,
			Version: Version,
			Label:   "podcore",
		},
		Hardware: hw,
		OpenFunc: serialport.OpenPort,
		Location: cfg.Timezone,
	})

	if err := a.Run(ctx); err != nil {
		logger.Error("podcore: %v", err)
		os.Exit(1)
	}
}

// openHardware brings up the periph.io host drivers and opens the I²C
// bus carrying the LED controller and GPIO expander. A failure here is
// logged and hardware support is disabled rather than treated as fatal,
// since podcore is also run on development benches without the pod's
// I²C devices present.
func openHardware(busName string) app.Hardware {
	if _, err := host.Init(); err != nil {
		logger.Warn("podcore: periph host init: %v", err)
		return app.Hardware{}
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		logger.Warn("podcore: open i2c bus %q: %v", busName, err)
		return app.Hardware{}
	}

	return app.Hardware{
		LED:      i2cdevices.NewLEDDriver(bus, i2cdevices.IS31FL3194DefaultAddr),
		Expander: mustExpander(bus),
	}
}

func mustExpander(bus i2c.Bus) *i2cdevices.Expander {
	exp, err := i2cdevices.NewExpander(bus, i2cdevices.PCAL6416ADefaultAddr)
	if err != nil {
		logger.Warn("podcore: gpio expander init: %v", err)
		return nil
	}
	return exp
}
