// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rulebridge is the bridge between the policy engine and the
// kernel packet filter: applying and deleting nft rules, and reading
// back the counters nft rules accumulate. Two transports are used for
// two different jobs: the nft CLI for anything that needs to echo a
// rule's assigned handle back (apply, delete-by-rule-text), and native
// netlink for read-only counter enumeration, which doesn't need a
// subprocess round trip.
package rulebridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/nftables"

	"grimm.is/devicewall/internal/errors"
)

// CounterType selects which value a counter read returns.
type CounterType int

const (
	CounterPackets CounterType = iota
	CounterBytes
)

var handlePattern = regexp.MustCompile(`handle\s+(\d+)`)

// ExecCmd runs an nft command, discarding its output. It is used for
// rule additions where the caller does not need the assigned handle
// back.
func ExecCmd(ctx context.Context, cmd string) error {
	c := exec.CommandContext(ctx, "nft", "-f", "-")
	c.Stdin = strings.NewReader(cmd)
	if output, err := c.CombinedOutput(); err != nil {
		wrapped := errors.Wrap(err, errors.KindBridge, "nft command failed")
		wrapped = errors.Attr(wrapped, "command", cmd)
		return errors.Attr(wrapped, "output", string(output))
	}
	return nil
}

// ExecCmdVerbose runs an nft command with handle-echoing enabled and
// returns its output, so the caller can recover the handle nft
// assigned to a newly added rule.
func ExecCmdVerbose(ctx context.Context, cmd string) (string, error) {
	c := exec.CommandContext(ctx, "nft", "-a", "-e", "-f", "-")
	c.Stdin = strings.NewReader(cmd)
	var out bytes.Buffer
	c.Stdout = &out
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		wrapped := errors.Wrap(err, errors.KindBridge, "nft command failed")
		wrapped = errors.Attr(wrapped, "command", cmd)
		return "", errors.Attr(wrapped, "stderr", stderr.String())
	}
	return out.String(), nil
}

// HandleOf extracts the rule handle nft echoed in buf, the output of
// an ExecCmdVerbose call.
func HandleOf(buf string) (int, bool) {
	m := handlePattern.FindStringSubmatch(buf)
	if m == nil {
		return 0, false
	}
	handle, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return handle, true
}

// DeleteByHandle deletes the rule identified by handle from table/chain.
func DeleteByHandle(ctx context.Context, table, chain string, handle int) error {
	cmd := fmt.Sprintf("delete rule %s %s handle %d", table, chain, handle)
	if _, err := ExecCmdVerbose(ctx, cmd); err != nil {
		return errors.Wrapf(err, errors.KindBridge, "deleting rule with handle %d", handle)
	}
	return nil
}

// DeleteRule finds ruleText within table/chain's current ruleset and
// deletes it by its handle.
func DeleteRule(ctx context.Context, table, chain, ruleText string) error {
	listing, err := ExecCmdVerbose(ctx, fmt.Sprintf("list chain %s %s", table, chain))
	if err != nil {
		return errors.Wrap(err, errors.KindBridge, "listing chain to locate rule")
	}

	idx := strings.Index(listing, ruleText)
	if idx == -1 {
		notFound := errors.New(errors.KindLookup, "rule text not found in chain listing")
		notFound = errors.Attr(notFound, "table", table)
		notFound = errors.Attr(notFound, "chain", chain)
		return errors.Attr(notFound, "rule", ruleText)
	}

	line := listing[idx:]
	if nl := strings.IndexByte(line, '\n'); nl != -1 {
		line = line[:nl]
	}
	handle, ok := HandleOf(line)
	if !ok {
		noHandle := errors.New(errors.KindLookup, "no handle found for matched rule")
		return errors.Attr(noHandle, "rule", ruleText)
	}
	return DeleteByHandle(ctx, table, chain, handle)
}

// ReadPackets reads an nftables named counter's packet count via the
// nft CLI.
func ReadPackets(ctx context.Context, table, counter string) (int64, error) {
	return readCounter(ctx, table, counter, CounterPackets)
}

// ReadBytes reads an nftables named counter's byte count via the nft
// CLI.
func ReadBytes(ctx context.Context, table, counter string) (int64, error) {
	return readCounter(ctx, table, counter, CounterBytes)
}

func readCounter(ctx context.Context, table, counter string, kind CounterType) (int64, error) {
	output, err := ExecCmdVerbose(ctx, fmt.Sprintf("list counter %s %s", table, counter))
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindBridge, "reading counter %s", counter)
	}
	return parseCounterOutput(output, counter, kind)
}

// parseCounterOutput extracts a packet or byte count from the text nft
// prints for "list counter", split out from readCounter so the parsing
// logic can be exercised without spawning nft.
func parseCounterOutput(output, counter string, kind CounterType) (int64, error) {
	pattern := "packets"
	if kind == CounterBytes {
		pattern = "bytes"
	}
	fieldRe := regexp.MustCompile(pattern + `\s+(\d+)`)
	m := fieldRe.FindStringSubmatch(output)
	if m == nil {
		notFound := errors.New(errors.KindParse, "counter field not found in nft output")
		notFound = errors.Attr(notFound, "counter", counter)
		return 0, errors.Attr(notFound, "field", pattern)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindParse, "parsing counter value")
	}
	return value, nil
}

// ReadMicroseconds returns the current time as a Unix microsecond
// count, the basis for the engine's duration counters.
func ReadMicroseconds() uint64 {
	return uint64(time.Now().UnixMicro())
}

// NativeCounters holds counter values read via netlink instead of the
// nft CLI: the same information ExecCmdVerbose-based reads return, for
// the bulk-enumeration case where a subprocess per counter would be
// wasteful.
type NativeCounters struct {
	Packets uint64
	Bytes   uint64
}

// ReadAllCountersNative enumerates every named counter object in
// table, by name, using native netlink rather than spawning nft once
// per counter.
func ReadAllCountersNative(tableName string) (map[string]NativeCounters, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindBridge, "opening netlink connection")
	}

	result := make(map[string]NativeCounters)

	tables, err := conn.ListTables()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindBridge, "listing nftables tables")
	}

	var target *nftables.Table
	for _, t := range tables {
		if t.Name == tableName {
			target = t
			break
		}
	}
	if target == nil {
		return result, nil
	}

	objs, err := conn.GetObjects(target)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindBridge, "listing nftables counter objects")
	}
	for _, obj := range objs {
		ctr, ok := obj.(*nftables.CounterObj)
		if !ok {
			continue
		}
		result[ctr.Name] = NativeCounters{Packets: ctr.Packets, Bytes: ctr.Bytes}
	}
	return result, nil
}
