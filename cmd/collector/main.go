/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gravwell/artemis-collector/internal/collect"
	"github.com/gravwell/artemis-collector/internal/config"
	"github.com/gravwell/artemis-collector/internal/log"
)

const appName = `artemis-collector`

var (
	configLoc = flag.String("config-file", "", "Location of the TOML collection file")
	logFile   = flag.String("log-file", "", "Write log output to a file instead of stderr")
	logLevel  = flag.String("log-level", "INFO", "Log level (OFF DEBUG INFO WARN ERROR CRITICAL)")
	hostname  = flag.String("hostname", "", "Override the hostname recorded in output envelopes")
	verbose   = flag.Bool("v", false, "Display verbose status updates to stdout")
)

func main() {
	flag.Parse()
	if *configLoc == "" {
		fmt.Fprintf(os.Stderr, "%s: -config-file is required\n", appName)
		os.Exit(-1)
	}

	lg := log.New(os.Stderr)
	if *logFile != "" {
		flg, err := log.NewFile(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", *logFile, err)
			os.Exit(-1)
		}
		lg = flg
		defer lg.Close()
	}
	if err := lg.SetLevelString(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(-1)
	}
	lg.SetAppname(appName)

	coll, err := config.LoadFile(*configLoc)
	if err != nil {
		// once flags and logging are set up, configuration parse failure
		// is the one fatal error class: failures during collection are
		// logged and the process still exits zero.
		lg.Criticalf("failed to load collection file %s: %v", *configLoc, err)
		os.Exit(-1)
	}

	host := *hostname
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			host = "unknown"
		}
	}

	if *verbose {
		fmt.Printf("collecting %d artifacts from %s\n", len(coll.Artifacts), *configLoc)
	}
	driver := collect.New(host, lg)
	if err := driver.Run(coll); err != nil {
		lg.Errorf("collection run failed: %v", err)
	}
	if *verbose {
		fmt.Println("collection complete")
	}
}
