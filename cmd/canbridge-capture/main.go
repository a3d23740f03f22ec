package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tp2/canbridge/pkg/capture"
	"github.com/tp2/canbridge/pkg/protocol"
)

// Prints a capture file, one report line per recorded frame

func main() {
	only := flag.String("d", "", "only print this direction : rx or tx")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: canbridge-capture [-d rx|tx] <file>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	reader := capture.NewReader(f)
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("[CAPTURE] %v", err)
		}
		if *only != "" && string(record.Direction) != *only {
			continue
		}
		fmt.Printf("%v %v %v\n",
			record.Timestamp().Format(time.RFC3339Nano),
			record.Direction,
			protocol.FormatReport(record.Frame()),
		)
	}
}
