// mctp-client connects to an mctp-server instance and exercises the MCTP
// Control command set: it assigns the server an endpoint ID, then reads
// the ID back along with the server's UUID, supported versions, and
// advertised message types.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JackrabbitLabs/mctp"
	"github.com/JackrabbitLabs/mctp/internal/ctrl"
	"github.com/JackrabbitLabs/mctp/internal/logging"
)

const serverEID = 0x02

func main() {
	var (
		host    = flag.String("host", "127.0.0.1", "Server address")
		port    = flag.Int("port", mctp.DefaultPort, "Server TCP port")
		timeout = flag.Duration("timeout", 2*time.Second, "Per-request timeout")
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
	cfg.BindAddress = *host
	cfg.Mode = mctp.ModeClient
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
	if err := ep.Run(); err != nil {
		logger.Error("failed to connect", "err", err)
		os.Exit(1)
	}
	defer ep.Stop()

	opts := &mctp.SubmitOptions{Timeout: *timeout}

	// Assign the server its endpoint ID.
	a, err := ep.Submit(mctp.MsgTypeControl, mctp.EIDNull, mctp.BuildSetEID(0, serverEID), opts)
	if err != nil {
		fail("Set Endpoint ID", err)
	}
	var setResp ctrl.SetEIDResp
	mustUnpack("Set Endpoint ID", setResp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	fmt.Printf("Set Endpoint ID:   cc=%s eid=0x%02x\n", setResp.CC, setResp.EID)
	ep.Retire(a)

	// Read it back.
	a, err = ep.Submit(mctp.MsgTypeControl, serverEID, mctp.BuildGetEID(1), opts)
	if err != nil {
		fail("Get Endpoint ID", err)
	}
	var eidResp ctrl.GetEIDResp
	mustUnpack("Get Endpoint ID", eidResp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	fmt.Printf("Get Endpoint ID:   cc=%s eid=0x%02x\n", eidResp.CC, eidResp.EID)
	ep.Retire(a)

	// Fetch the server's UUID.
	a, err = ep.Submit(mctp.MsgTypeControl, serverEID, mctp.BuildGetUUID(2), opts)
	if err != nil {
		fail("Get Endpoint UUID", err)
	}
	var uuidResp ctrl.GetUUIDResp
	mustUnpack("Get Endpoint UUID", uuidResp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	fmt.Printf("Get Endpoint UUID: cc=%s uuid=%x\n", uuidResp.CC, uuidResp.UUID)
	ep.Retire(a)

	// Ask which base-specification versions the server supports.
	a, err = ep.Submit(mctp.MsgTypeControl, serverEID, mctp.BuildGetVersionSupport(3, mctp.MsgTypeBase), opts)
	if err != nil {
		fail("Get Version Support", err)
	}
	var verResp ctrl.GetVerResp
	mustUnpack("Get Version Support", verResp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	fmt.Printf("Get Version Support: cc=%s", verResp.CC)
	for _, v := range verResp.Versions {
		fmt.Printf(" %s", v)
	}
	fmt.Println()
	ep.Retire(a)

	// Ask which message types the server carries.
	a, err = ep.Submit(mctp.MsgTypeControl, serverEID, mctp.BuildGetMessageTypes(4), opts)
	if err != nil {
		fail("Get Message Type Support", err)
	}
	var typeResp ctrl.GetTypeResp
	mustUnpack("Get Message Type Support", typeResp.Unpack(a.Rsp.Body()[ctrl.HdrLen:]))
	fmt.Printf("Get Message Types: cc=%s", typeResp.CC)
	for _, t := range typeResp.Types {
		fmt.Printf(" %s", mctp.MsgTypeName(t))
	}
	fmt.Println()
	ep.Retire(a)
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", op, err)
	os.Exit(1)
}

func mustUnpack(op string, err error) {
	if err != nil {
		fail(op, err)
	}
}
