// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command devicewall-logd is the log sidecar: it binds one NFLOG group
// and writes every logged packet as a CSV row to a file or to stdout,
// flushing and closing cleanly on SIGINT/SIGTERM.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"grimm.is/devicewall/internal/logging"
	"grimm.is/devicewall/internal/logsink"
)

func main() {
	if len(os.Args) != 2 && len(os.Args) != 3 {
		os.Stderr.WriteString("usage: devicewall-logd <log_group> [<log_file>|-]\n")
		os.Exit(1)
	}

	log := logging.WithComponent("devicewall-logd")

	group, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		log.WithError(err).Fatal("invalid log_group")
	}

	out, closeFile, err := openOutput(argOrDash(os.Args, 2))
	if err != nil {
		log.WithError(err).Fatal("failed to open log file")
	}
	buffered := bufio.NewWriter(out)
	defer func() {
		buffered.Flush()
		closeFile()
	}()

	writer := logsink.NewWriter(buffered)
	if err := writer.WriteHeader(); err != nil {
		log.WithError(err).Fatal("failed to write log header")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reader := logsink.NewReader(uint16(group))
	log.Info("logd listening", "group", group)

	if err := reader.Run(ctx, writer); err != nil {
		buffered.Flush()
		closeFile()
		log.WithError(err).Fatal("nflog receive loop failed")
	}

	log.Info("logd stopped", "group", group)
}

func argOrDash(args []string, i int) string {
	if len(args) <= i {
		return "-"
	}
	return args[i]
}

func openOutput(path string) (out *os.File, closeFile func(), err error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
