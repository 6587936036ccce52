package main

import (
	"os"

	zipkin "github.com/openzipkin/zipkin-go"
	log "github.com/sirupsen/logrus"
	"github.com/synaptic-tools/uitransact/client"
	"github.com/synaptic-tools/uitransact/config"
	"github.com/synaptic-tools/uitransact/core/dto"
	"github.com/synaptic-tools/uitransact/core/transceiver"
	"github.com/synaptic-tools/uitransact/io/trace"
	"github.com/synaptic-tools/uitransact/io/transport/memory"
	"github.com/synaptic-tools/uitransact/io/transport/unixsock"
	"github.com/synaptic-tools/uitransact/server"
)

func main() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	conf := config.Get()

	var tracer *zipkin.Tracer
	if conf.Trace {
		var err error
		tracer, err = trace.Tracer(conf.ServiceName, conf.TraceEndpoint)
		if err != nil {
			log.WithError(err).Warn("tracing disabled: failed to build zipkin tracer")
			tracer = nil
		}
	}

	switch conf.Role {
	case "server":
		runServer(conf, tracer)
	case "client":
		runClient(conf, tracer)
	default:
		log.Fatalf("unknown role %q: expected \"server\" or \"client\"", conf.Role)
	}
}

func serverCapability(conf *config.Config) transceiver.Capability {
	if conf.SocketPath != "" {
		capa, err := unixsock.NewServerCapability(conf.SocketPath)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", conf.SocketPath, err)
		}
		return capa
	}
	return memory.NewServerCapability(memory.NewBroker(), conf.Token)
}

func clientCapability(conf *config.Config) transceiver.Capability {
	if conf.SocketPath != "" {
		capa, err := unixsock.NewClientCapability(conf.SocketPath)
		if err != nil {
			log.Fatalf("failed to dial %s: %v", conf.SocketPath, err)
		}
		return capa
	}
	return memory.NewClientCapability(memory.NewBroker(), conf.Token)
}

func runServer(conf *config.Config, tracer *zipkin.Tracer) {
	srv := server.New(serverCapability(conf), tracer)
	srv.SetCallFunction(dispatch)
	if !srv.Initialize() {
		log.Fatal("failed to initialize transaction server")
	}
	os.Exit(int(srv.RunLoop()))
}

func runClient(conf *config.Config, tracer *zipkin.Tracer) {
	cli := client.New(clientCapability(conf), tracer)
	if !cli.Initialize() {
		log.Fatal("failed to initialize transaction client")
	}
	defer cli.Finalize()
	log.Info("transaction client ready")
	select {}
}

// dispatch is the process's default call function. Real hosts are expected
// to install their own via server.SetCallFunction; this one just proves the
// wiring works end to end.
func dispatch(call *dto.ApiCallInfo, reply *dto.ApiReplyInfo) {
	reply.ResultStr = call.ApiId
}
