package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tp2/canbridge/pkg/host"
	"github.com/tp2/canbridge/pkg/serial"
)

// Host side monitor : lines typed on stdin are sent as commands, device
// lines are printed and the TP2 angle table is refreshed periodically.

func main() {
	port := flag.String("p", "/dev/ttyUSB0", "serial port of the bridge")
	baud := flag.Int("baud", serial.DefaultBaud, "baud rate")
	period := flag.Duration("t", 5*time.Second, "angle table period, 0 to disable")
	flag.Parse()

	link, err := serial.Open(serial.Config{Port: *port, Baud: *baud})
	if err != nil {
		log.Fatal(err)
	}
	defer link.Close()

	tracker := host.NewTracker()
	client := host.NewClient(link, tracker)
	go func() {
		err := client.Listen(func(line string) { fmt.Println(line) })
		if err != nil {
			log.Errorf("[HOST] link closed : %v", err)
		}
		os.Exit(0)
	}()

	if *period > 0 {
		go func() {
			ticker := time.NewTicker(*period)
			defer ticker.Stop()
			for range ticker.C {
				if err := host.WriteTable(os.Stdout, tracker.Snapshot(), tracker.Now()); err != nil {
					log.Errorf("[HOST] %v", err)
				}
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		if err := client.Send(command); err != nil {
			log.Fatalf("[HOST] failed to send %q : %v", command, err)
		}
	}
}
