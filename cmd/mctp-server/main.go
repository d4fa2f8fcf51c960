// mctp-server runs an MCTP endpoint in server mode and answers CXL FM API
// Identify Switch Device requests, demonstrating the per-type handler
// contract on top of the built-in MCTP Control handling.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JackrabbitLabs/mctp"
	"github.com/JackrabbitLabs/mctp/internal/logging"
)

// A minimal slice of the CXL FM API message envelope, enough to answer
// Identify Switch Device (opcode 0x5100). Category nibble, tag, opcode,
// payload length, return code.
const (
	fmapiHdrLen = 8

	fmCategoryReq  = 0
	fmCategoryResp = 1

	fmOpIdentifySwitch = 0x5100

	fmRCSuccess     = 0x0000
	fmRCUnsupported = 0x0015
)

func fmapiPackHdr(buf []byte, category, tag uint8, opcode uint16, payloadLen int, rc uint16) {
	buf[0] = category & 0x0F
	buf[1] = tag
	buf[2] = 0
	binary.LittleEndian.PutUint16(buf[3:5], opcode)
	buf[5] = byte(payloadLen)
	binary.LittleEndian.PutUint16(buf[6:8], rc)
}

// fmapiHandler answers FM API requests. Unknown opcodes get an
// Unsupported return code; Identify Switch Device gets a fixed identity.
func fmapiHandler(ep *mctp.Endpoint, a *mctp.Action) error {
	req := a.Req
	body := req.Body()
	if len(body) < fmapiHdrLen {
		return fmt.Errorf("short FM API message: %d bytes", len(body))
	}
	if body[0]&0x0F != fmCategoryReq {
		return fmt.Errorf("not an FM API request")
	}
	fmTag := body[1]
	opcode := binary.LittleEndian.Uint16(body[3:5])

	rsp, err := ep.AcquireMessage()
	if err != nil {
		return err
	}
	rsp.SetHeader(req.Src, req.Dst, false, req.Tag)
	rsp.Type = req.Type

	switch opcode {
	case fmOpIdentifySwitch:
		// Fixed single-switch identity: ingress port 1, 32 ports, 16
		// VCSs, all ports active; the one-byte VCS bitmask marks VCSs
		// 0-7 active.
		payload := rsp.Payload[fmapiHdrLen:]
		payload[0] = 1  // ingress port
		payload[1] = 32 // number of physical ports
		payload[2] = 16 // number of VCSs
		for i := 3; i < 7; i++ {
			payload[i] = 0xFF // active port bitmask
		}
		payload[7] = 0xFF // active VCS bitmask
		payload[8] = 32   // number of vPPBs
		payload[9] = 32   // active vPPBs
		payload[10] = 1   // HDM decoders per USP

		fmapiPackHdr(rsp.Payload[:], fmCategoryResp, fmTag, opcode, 11, fmRCSuccess)
		rsp.Len = fmapiHdrLen + 11
	default:
		fmapiPackHdr(rsp.Payload[:], fmCategoryResp, fmTag, opcode, 0, fmRCUnsupported)
		rsp.Len = fmapiHdrLen
	}

	a.Rsp = rsp
	return ep.Respond(a)
}

func main() {
	var (
		port    = flag.Int("port", mctp.DefaultPort, "TCP port to listen on")
		bind    = flag.String("bind", "", "Address to bind (default all interfaces)")
		metrics = flag.String("metrics", "", "Optional address to serve Prometheus metrics on (e.g. :9824)")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := mctp.DefaultConfig()
	cfg.Port = *port
	cfg.BindAddress = *bind
	cfg.Mode = mctp.ModeServer
	cfg.NonBlockingStart = true
	cfg.Logger = logger
	if *verbose {
		cfg.Verbosity = mctp.VerboseError | mctp.VerbosePacket | mctp.VerboseMessage
	}

	ep, err := mctp.New(cfg)
	if err != nil {
		logger.Error("failed to create endpoint", "err", err)
		os.Exit(1)
	}
	ep.SetHandler(mctp.MsgTypeCXLFMAPI, fmapiHandler)

	if *metrics != "" {
		prometheus.MustRegister(mctp.NewCollector(ep))
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metrics, nil); err != nil {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		logger.Info("serving metrics", "addr", *metrics)
	}

	if err := ep.Run(); err != nil {
		logger.Error("failed to start endpoint", "err", err)
		os.Exit(1)
	}
	fmt.Printf("MCTP server listening on port %d\n", ep.Port())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("stopping endpoint")
	if err := ep.Stop(); err != nil {
		logger.Error("error stopping endpoint", "err", err)
	}
}
