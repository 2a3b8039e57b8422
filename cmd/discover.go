package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/discovery"
)

var addressFlag = &cli.StringFlag{
	Name:     "address",
	Usage:    "host:port the participant will listen on",
	Required: true,
}

var valueFlag = &cli.StringFlag{
	Name:  "value",
	Value: "Attack",
	Usage: "initial value of the participant",
}

var portsFlag = &cli.StringFlag{
	Name:  "ports",
	Value: "9000-9010",
	Usage: "localhost port range participants advertise themselves on",
}

var expectFlag = &cli.IntFlag{
	Name:     "expect",
	Usage:    "number of participants, this one included",
	Required: true,
}

var waitFlag = &cli.DurationFlag{
	Name:  "wait",
	Value: 30 * time.Second,
	Usage: "how long to look for the other participants",
}

func parsePortRange(s string) (uint16, uint16, error) {
	from, to, found := strings.Cut(s, "-")
	if !found {
		to = from
	}
	start, err := strconv.ParseUint(strings.TrimSpace(from), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(to), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q: %w", s, err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	return uint16(start), uint16(end), nil
}

// discoverCmd advertises one participant, waits for the others and prints
// the roster they make up together.
func discoverCmd(c *cli.Context) error {
	logger := newLogger(c.Bool(verboseFlag.Name))
	start, end, err := parsePortRange(c.String(portsFlag.Name))
	if err != nil {
		return err
	}
	expect := c.Int(expectFlag.Name)
	if expect < 2 {
		return fmt.Errorf("--%s must be at least 2", expectFlag.Name)
	}
	self := config.Member{
		ID:      c.String(idFlag.Name),
		Address: c.String(addressFlag.Name),
		Value:   c.String(valueFlag.Name),
	}
	wait := c.Duration(waitFlag.Name)
	d, err := discovery.New(self,
		discovery.WithPortRange(start, end),
		discovery.WithAttempts(uint(max(wait/time.Second, 1))),
		discovery.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer func() {
		// slower participants may still be scanning for this entry
		time.Sleep(2 * time.Second)
		_ = d.Close()
	}()

	ctx, cancel := context.WithTimeout(c.Context, wait)
	defer cancel()
	found, err := d.Gather(ctx, expect-1)
	if err != nil {
		return fmt.Errorf("discovering participants: %w", err)
	}
	r, err := discovery.Roster(self, found)
	if err != nil {
		return err
	}
	b, err := r.TOML()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(b)
	return err
}
