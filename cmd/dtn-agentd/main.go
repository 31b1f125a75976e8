// Command dtn-agentd runs one bundle-protocol custody engine process: it
// loads a TOML configuration (spec §6's configuration surface), opens one
// core.Channel per configured endpoint, wires each to its convergence-layer
// adapters, and exposes an admin/application surface over HTTP, mirroring
// the shape of the teacher's cmd/dtnd/main.go.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	agent, err := newAgent(os.Args[1])
	if err != nil {
		log.WithField("error", err).Fatal("dtn-agentd: failed to start")
	}

	waitSigint()
	log.Info("dtn-agentd: shutting down")
	agent.Close()
}

func waitSigint() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}
