// Package cliutil holds the argument-parsing helpers shared by
// cmd/coordinator and cmd/meter: the IP-map file format and the
// variant flag, neither of which belongs in the core.
package cliutil

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.dedis.ch/pddm/config"
	"go.dedis.ch/pddm/fixedpoint"
	"go.dedis.ch/pddm/wire"
)

// PeerAddr is one entry of the IP-map file: a meter id and its
// ip:port.
type PeerAddr struct {
	ID   int
	Addr string
}

// LoadIPMap reads one "<meter-id> <ip>:<port>" record per line.
func LoadIPMap(path string) ([]PeerAddr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening meter IP-map file")
	}
	defer f.Close()

	var peers []PeerAddr
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("IP-map line %d: expected \"<id> <ip:port>\", got %q", lineNo, line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "IP-map line %d: invalid meter id %q", lineNo, fields[0])
		}
		peers = append(peers, PeerAddr{ID: id, Addr: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading meter IP-map file")
	}
	return peers, nil
}

// ParseVariant maps a CLI variant name to config.Variant. Accepted
// (case-insensitive): "byzantine", "crashtolerant" / "ct", "hft" /
// "highfailuretolerant".
func ParseVariant(name string) (config.Variant, error) {
	switch strings.ToLower(name) {
	case "byzantine":
		return config.Byzantine, nil
	case "crashtolerant", "ct":
		return config.CrashTolerant, nil
	case "hft", "highfailuretolerant":
		return config.HighFailureTolerant, nil
	default:
		return 0, errors.Errorf("unknown variant %q (want byzantine, crashtolerant, or hft)", name)
	}
}

// LoadQueryBatch reads one "<query_number> <request_type> <window_minutes>"
// record per line, for the -batch runner mode. PriceFn is always nil: a
// batch file describes queries to issue, not a live price model.
func LoadQueryBatch(path string) ([]wire.QueryRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening query batch file")
	}
	defer f.Close()

	var batch []wire.QueryRequest
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, errors.Errorf("batch line %d: expected \"<query_number> <request_type> <window_minutes>\", got %q", lineNo, line)
		}
		qn, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "batch line %d: invalid query number %q", lineNo, fields[0])
		}
		window, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "batch line %d: invalid window_minutes %q", lineNo, fields[2])
		}
		batch = append(batch, wire.QueryRequest{
			QueryNumber: qn,
			RequestType: fields[1],
			TimeWindowMinutes: window,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading query batch file")
	}
	return batch, nil
}

// LoadDeviceMeasurements reads one device's static reading from each of
// paths: the first whitespace-trimmed line of each file, parsed as a
// float64. A meter's device-config-files are a one-shot configuration
// snapshot, not a live telemetry stream, so the reading is taken once at
// startup and reused for every query.
func LoadDeviceMeasurements(paths []string) (fixedpoint.Vector, error) {
	vec := make(fixedpoint.Vector, len(paths))
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, errors.Wrapf(err, "opening device config file %q", p)
		}
		scanner := bufio.NewScanner(f)
		var line string
		for scanner.Scan() {
			line = strings.TrimSpace(scanner.Text())
			if line != "" {
				break
			}
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return nil, errors.Wrapf(scanErr, "reading device config file %q", p)
		}
		reading, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "device config file %q: invalid reading %q", p, line)
		}
		vec[i] = fixedpoint.FromFloat(reading)
	}
	return vec, nil
}

// ParseID parses a meter id CLI argument, which must be non-negative
// (the utility's fixed id -1 only ever appears as the coordinator's
// literal mode marker, never as a meter id argument).
func ParseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid meter id %q", s)
	}
	if id < 0 {
		return 0, errors.Errorf("meter id must be non-negative, got %d", id)
	}
	return id, nil
}

// ExtractFlag pulls a "<name> <value>" pair out of args, wherever it
// appears, and returns the remaining arguments with it removed. found is
// false if name doesn't appear at all.
func ExtractFlag(args []string, name string) (value string, rest []string, found bool, err error) {
	for i, a := range args {
		if a != name {
			continue
		}
		if i+1 >= len(args) {
			return "", nil, true, errors.Errorf("%s requires a value", name)
		}
		rest = make([]string, 0, len(args)-2)
		rest = append(rest, args[:i]...)
		rest = append(rest, args[i+2:]...)
		return args[i+1], rest, true, nil
	}
	return "", args, false, nil
}
