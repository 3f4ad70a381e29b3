package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the settings a first run needs and saves the
// result. It reads answers from in and writes prompts to out.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	p := prompter{r: reader, w: out}

	fmt.Fprintln(out, "warhost first run setup")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "-- Host --")
	cfg.Host.Name = p.str("Host name shown in lobbies", cfg.Host.Name)
	cfg.Host.GamePort = p.number("Game port", cfg.Host.GamePort)
	cfg.Host.Reconnect = p.yesNo("Accept GProxy reconnects", cfg.Host.Reconnect)
	if cfg.Host.Reconnect {
		cfg.Host.ReconnectPort = p.number("Reconnect port", cfg.Host.ReconnectPort)
	}
	cfg.Host.War3Version = p.str("Game version (e.g. 1.26)", cfg.Host.War3Version)
	cfg.Host.TFT = p.yesNo("The Frozen Throne", cfg.Host.TFT)
	cfg.Host.LANBroadcast = p.yesNo("Advertise games on the LAN", cfg.Host.LANBroadcast)
	cfg.Host.RootAdmins = p.str("Root admins (space separated)", cfg.Host.RootAdmins)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Maps --")
	cfg.Maps.Directory = p.str("Map directory", cfg.Maps.Directory)
	cfg.Maps.ConfigDirectory = p.str("Map config directory", cfg.Maps.ConfigDirectory)
	cfg.Maps.Default = p.str("Default map config", cfg.Maps.Default)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Downloads --")
	cfg.Download.Allow = p.number("Map downloads (0 never, 1 automatic, 2 with permission)", cfg.Download.Allow)
	cfg.Download.MaxSpeed = p.number("Max download speed per player (KB/s)", cfg.Download.MaxSpeed)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- API --")
	cfg.API.Enabled = p.yesNo("Enable the REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = p.number("API port", cfg.API.Port)
		cfg.API.Token = p.str("API token (blank disables control routes)", cfg.API.Token)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- MQTT telemetry --")
	cfg.MQTT.Enabled = p.yesNo("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = p.str("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = p.number("Broker port", cfg.MQTT.Port)
	}

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p prompter) read() string {
	input, _ := p.r.ReadString('\n')
	return strings.TrimSpace(input)
}

func (p prompter) str(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.w, "  %s: ", prompt)
	}
	if input := p.read(); input != "" {
		return input
	}
	return defaultVal
}

func (p prompter) number(prompt string, defaultVal int) int {
	fmt.Fprintf(p.w, "  %s [%d]: ", prompt, defaultVal)
	input := p.read()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.w, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p prompter) yesNo(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultStr)
	input := strings.ToLower(p.read())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
