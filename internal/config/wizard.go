package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard reading answers from in
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== steerd Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	// Model
	for {
		fmt.Fprint(w.out, "Model path (file, s3://bucket/key or http(s) model server): ")
		path, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if err := validator.ValidateModelPath(path); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}

		cfg.Model.Path = path
		break
	}

	fmt.Fprintln(w.out)

	// Server
	fmt.Fprintf(w.out, "Listen port [%d]: ", cfg.Server.Port)
	port, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err == nil {
			err = validator.ValidatePort(p)
		}
		if err != nil {
			fmt.Fprintf(w.out, "Warning: invalid port %q, using default (%d)\n", port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}

	fmt.Fprintln(w.out)

	// Governor
	fmt.Fprintln(w.out, "Speed governor:")
	maxSpeed, err := w.readFloat(fmt.Sprintf("Max speed [%g]: ", cfg.Control.MaxSpeed), cfg.Control.MaxSpeed)
	if err != nil {
		return nil, err
	}
	minSpeed, err := w.readFloat(fmt.Sprintf("Min speed [%g]: ", cfg.Control.MinSpeed), cfg.Control.MinSpeed)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateSpeedLimits(maxSpeed, minSpeed); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using defaults (%g/%g)\n", err, cfg.Control.MaxSpeed, cfg.Control.MinSpeed)
	} else {
		cfg.Control.MaxSpeed = maxSpeed
		cfg.Control.MinSpeed = minSpeed
	}

	fmt.Fprintln(w.out)

	// Recording
	fmt.Fprint(w.out, "Recording directory (press Enter to disable): ")
	dir, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if dir != "" {
		cfg.Recording.Enabled = true
		cfg.Recording.Directory = dir
	}

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintln(w.out, "Logging:")
	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readFloat(prompt string, def float64) (float64, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.readLine()
	if err != nil {
		return 0, err
	}
	if line == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Fprintf(w.out, "Warning: %q is not a number, using %g\n", line, def)
		return def, nil
	}
	return f, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
