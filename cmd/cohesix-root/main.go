// Command cohesix-root is the root task's boot entrypoint: it loads the
// manifest, assembles NineDoor's namespace and the dual console, and
// hands control to the cooperative event pump for the life of the VM.
//
// Grounded on dittofs's cmd/dittofs/main.go runStart flow (load config,
// init logger, build the registry, wire adapters, serve until signaled)
// generalized from DittoFS's multi-adapter NFS/SMB server to Cohesix's
// single Secure9P+console root task, and on cmd/dittofsctl's cobra
// command shape for flag parsing.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cohesix/root/internal/audit"
	"github.com/cohesix/root/internal/cas"
	"github.com/cohesix/root/internal/clock"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/console"
	"github.com/cohesix/root/internal/dispatcher"
	"github.com/cohesix/root/internal/logger"
	"github.com/cohesix/root/internal/manifest"
	"github.com/cohesix/root/internal/metrics"
	"github.com/cohesix/root/internal/namespace"
	"github.com/cohesix/root/internal/netstack"
	"github.com/cohesix/root/internal/policy"
	"github.com/cohesix/root/internal/providers"
	"github.com/cohesix/root/internal/pump"
	"github.com/cohesix/root/internal/rootrpc"
	"github.com/cohesix/root/internal/serial"
	"github.com/cohesix/root/internal/ticket"
	"github.com/cohesix/root/internal/virtio"
	"github.com/spf13/cobra"
)

var (
	manifestPath  string
	hostOperator  string
	localMAC      string
	localIP       string
	consolePort   uint16
	secure9pPort  uint16
)

func main() {
	root := &cobra.Command{
		Use:   "cohesix-root",
		Short: "Boot the Cohesix root task",
		RunE:  run,
	}
	root.Flags().StringVar(&manifestPath, "manifest", "", "path to the TOML manifest (defaults-only boot if empty)")
	root.Flags().StringVar(&hostOperator, "host-operator-secret", "dev-only-operator-secret", "host-operator bearer token HMAC secret")
	root.Flags().StringVar(&localMAC, "mac", "52:54:00:12:34:56", "virtio-net interface MAC address")
	root.Flags().StringVar(&localIP, "ip", "10.0.2.15", "in-VM IPv4 address for the console TCP listener")
	root.Flags().Uint16Var(&consolePort, "console-port", 9999, "TCP port the console listens on")
	root.Flags().Uint16Var(&secure9pPort, "secure9p-port", 5640, "TCP port NineDoor's Secure9P listener accepts on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cohesix-root:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	if err := logger.Init(logger.Config{Level: m.Logging.Level, Format: m.Logging.Format, Output: m.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("cohesix-root booting", logger.Operation("boot"))

	clk := clock.New()
	metricsReg := metrics.New()

	auditJournal, err := audit.NewJournal(m.Audit.JournalBytes, m.Audit.ExportDSN)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}

	ticketIssuer := ticket.NewIssuer(clk, m.Tickets)
	policyTable := policy.New(policy.DefaultRules())

	logProvider := providers.NewLog(map[string]int{
		"queen.log": int(m.Audit.JournalBytes),
	})
	logQueen := func(line []byte) { logProvider.Append("queen.log", line) }

	worker := providers.NewWorkerWithOptions(m.Secure9P.MaxSessions, providers.WorkerOptions{
		RingBytes:      m.Telemetry.RingBytesPerWorker,
		EvictionPolicy: m.TelemetryIngest.EvictionPolicy,
		OnRingWrap: func(workerID string) {
			auditJournal.Append(audit.Record{Verb: "telemetry-ring-wrap", Subject: workerID, Detail: "telemetry ring wrap"})
			logQueen([]byte("telemetry ring wrap worker=" + workerID + "\n"))
		},
	})
	shardAlias := providers.NewShardAlias(worker)
	rootTask := rootrpc.NewMemoryRootTask()

	ctl := dispatcher.New(worker, rootTask)

	rootLifecycle := providers.NewRootLifecycle(clk, auditJournal, logQueen)
	ctl.OnLeaseChange(func(delta int) {
		if delta > 0 {
			rootLifecycle.AddLease()
		} else {
			rootLifecycle.ReleaseLease()
		}
	})

	queen := providers.NewQueen(func(line []byte) error {
		err := ctl.Dispatch(line)
		auditJournal.Append(audit.Record{Verb: "queen-ctl", Detail: string(line)})
		return err
	}, rootLifecycle.Apply)

	gpu := providers.NewGpu(func(line []byte) error { return ctl.Dispatch(line) })

	treeProviders := []namespace.Provider{
		queen,
		worker,
		shardAlias,
		logProvider,
		gpu,
		buildProcProvider(m, rootLifecycle, metricsReg),
		providers.NewGenericProvider("/bus", nil),
		providers.NewGenericProvider("/lora", nil),
	}

	if m.Ecosystem.Policy.Enable {
		treeProviders = append(treeProviders, buildPolicyProvider(policyTable))
		treeProviders = append(treeProviders, providers.NewActions(auditJournal))
	}
	if m.Ecosystem.Audit.Enable {
		treeProviders = append(treeProviders, buildAuditProvider(auditJournal))
		treeProviders = append(treeProviders, providers.NewReplay(auditJournal, ctl.Dispatch, rootLifecycle.Apply))
	}
	if m.Ecosystem.Host.Enable {
		treeProviders = append(treeProviders, buildHostProvider())
	}

	var casStore *cas.Store
	if m.Ecosystem.CAS.Enable {
		casStore, err = cas.Open(context.Background(), cas.Options{
			DBPath:        m.CAS.Store.DBPath,
			ChunkBytes:    m.CAS.Store.ChunkBytes,
			MirrorEnabled: m.CAS.Mirror.Enabled,
			Bucket:        m.CAS.Mirror.Bucket,
			Region:        m.CAS.Mirror.Region,
			Prefix:        m.CAS.Mirror.Prefix,
		})
		if err != nil {
			return fmt.Errorf("open cas store: %w", err)
		}
		defer casStore.Close()
		treeProviders = append(treeProviders, providers.NewUpdates(casStore))
		if m.Ecosystem.Models.Enable {
			treeProviders = append(treeProviders, providers.NewModels(casStore))
		}
	}

	tree := namespace.NewTree(treeProviders, policyTable)

	hostAuth := console.NewHostAuth(hostOperator)
	defaultMounts := map[string][]string{
		"queen": {"/queen", "/worker", "/shard", "/log", "/proc", "/gpu", "/policy", "/audit", "/actions", "/replay"},
	}
	consoleDispatcher := console.New(hostAuth, tree, ticketIssuer, func(line []byte) error {
		return ctl.Dispatch(line)
	}, defaultMounts)

	dev := virtio.New(newPlatformMMIO())
	if err := dev.Init(); err != nil {
		return fmt.Errorf("init virtio-net device: %w", err)
	}
	mac, err := parseMAC(localMAC)
	if err != nil {
		return fmt.Errorf("parse --mac: %w", err)
	}
	ip, err := parseIPv4(localIP)
	if err != nil {
		return fmt.Errorf("parse --ip: %w", err)
	}
	stack := netstack.New(dev, netstack.Config{LocalMAC: mac, LocalIP: ip, ListenPort: consolePort})
	stack.AddListenPort(secure9pPort)

	serialPort := serial.NewBufferedPort()
	newLimiter := authLimiterFactory(clk, m.Console.Auth)
	ninedoor := newNinedoorSource(stack, secure9pPort, tree, ticketIssuer, m.Secure9P, metricsReg)

	p := pump.New(clk, m.Pump.TickBudgetBytes, metricsReg)
	p.Register(&serialRXSource{port: serialPort, disp: consoleDispatcher, conn: newSerialConn(clk, newLimiter)})
	p.Register(&timerSource{clk: clk, tick: time.Millisecond})
	p.Register(&virtioRXSource{stack: stack})
	p.Register(&virtioTXSource{dev: dev})
	p.Register(&netstackPollSource{stack: stack})
	p.Register(ninedoor)
	p.Register(newTCPConsoleSource(stack, consolePort, consoleDispatcher, clk, newLimiter))
	p.Register(&serialTXSource{port: serialPort})

	if watcher, err := newGpuModelWatcher(m.Gpu.ModelDir, gpu); err != nil {
		logger.Warn("gpu model watcher disabled", logger.Err(err))
	} else if watcher != nil {
		p.Register(watcher)
	}

	logger.Info("cohesix-root running", logger.Operation("boot"), logger.WorkerID("root"))
	p.Run(func() { time.Sleep(time.Millisecond) })
	return nil
}

// newPlatformMMIO returns the virtio-mmio register window for the
// console's network interface. The real mapping is an seL4 root-task
// concern outside this module's scope (spec.md §1: "seL4 kernel
// primitives... with only their interface contracts specified") — the
// same treatment internal/rootrpc gives capability retype and endpoint
// teardown. loopbackMMIO stands in for local development and testing.
func newPlatformMMIO() virtio.MMIORegion {
	return newLoopbackMMIO()
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil || n != 6 {
		return mac, fmt.Errorf("invalid MAC address %q", s)
	}
	return mac, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var ip [4]byte
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &ip[0], &ip[1], &ip[2], &ip[3])
	if err != nil || n != 4 {
		return ip, fmt.Errorf("invalid IPv4 address %q", s)
	}
	return ip, nil
}

// buildProcProvider serves /proc: the boot snapshot, the RootLifecycle
// read side, and the 9p/ingest/root/pressure diagnostic leaves spec.md
// §3 names. The 9p/ingest/pressure leaves all currently render the same
// full Prometheus text exposition dump rather than one parsed metric
// each — internal/metrics has no per-series accessor today, only a
// combined Snapshot(), so splitting it into individual scalar reads is
// left for when a caller actually needs to parse one series out rather
// than grep the dump (documented as a simplification in DESIGN.md).
func buildProcProvider(m *manifest.Manifest, lc *providers.RootLifecycle, met *metrics.Metrics) namespace.Provider {
	statsFile := func() *providers.FileNode {
		return &providers.FileNode{
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				snap, err := met.Snapshot()
				if err != nil {
					return nil, err
				}
				return sliceWindow(snap, offset, count), nil
			},
		}
	}

	boot := bootSnapshot(m)
	files := map[string]*providers.FileNode{
		"boot": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow(boot, offset, count), nil
			},
		},
		"lifecycle/state": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte(lc.State()+"\n"), offset, count), nil
			},
		},
		"lifecycle/reason": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte(lc.Reason()+"\n"), offset, count), nil
			},
		},
		"lifecycle/since": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte(lc.SinceMs()+"\n"), offset, count), nil
			},
		},
		"9p/sessions":      statsFile(),
		"9p/outstanding":   statsFile(),
		"9p/short_writes":  statsFile(),
		"ingest/p50_ms":    statsFile(),
		"ingest/p95_ms":    statsFile(),
		"ingest/backpressure": statsFile(),
		"ingest/dropped":   statsFile(),
		"ingest/queued":    statsFile(),
		"ingest/watch": {
			Kind: codec.KindRegAppendOnly,
			Write: func(offset uint64, data []byte) (uint32, error) {
				return uint32(len(data)), nil
			},
		},
		"pressure/busy":    statsFile(),
		"pressure/quota":   statsFile(),
		"pressure/cut":     statsFile(),
		"pressure/policy": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte(m.Pump.TickBudgetBytes.String()+"\n"), offset, count), nil
			},
		},
		"root/reachable": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte("true\n"), offset, count), nil
			},
		},
		"root/last_seen_ms": statsFile(),
		"root/cut_reason": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte("\n"), offset, count), nil
			},
		},
	}
	return providers.NewGenericProvider("/proc", files)
}

// bootSnapshot renders spec.md's scenario 1 boot summary: a bounded text
// block naming the manifest's Secure9P framing limits, checked with the
// exact "manifest.secure9p.msize=" / "manifest.secure9p.walk_depth="
// line prefixes the scenario greps for.
func bootSnapshot(m *manifest.Manifest) []byte {
	return []byte(fmt.Sprintf(
		"manifest.secure9p.msize=%d\nmanifest.secure9p.walk_depth=%d\nmanifest.secure9p.max_sessions=%d\nmanifest.telemetry.ring_bytes_per_worker=%s\n",
		m.Secure9P.Msize, m.Secure9P.WalkDepth, m.Secure9P.MaxSessions, m.Telemetry.RingBytesPerWorker,
	))
}

// buildPolicyProvider serves /policy/rules (a read-only rendering of the
// active, boot-fixed grant table) and /policy/ctl, which always refuses:
// spec.md's policy table is "derived deterministically from the
// manifest; runtime changes are not supported", so ctl exists to make
// that refusal explicit and auditable rather than a bare NotFound.
func buildPolicyProvider(table *policy.Table) namespace.Provider {
	rendered := []byte(table.String() + "\n")
	files := map[string]*providers.FileNode{
		"rules": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow(rendered, offset, count), nil
			},
		},
		"ctl": {
			Kind: codec.KindRegAppendOnly,
			Write: func(offset uint64, data []byte) (uint32, error) {
				return 0, fmt.Errorf("policy is manifest-derived and fixed at boot")
			},
		},
	}
	return providers.NewGenericProvider("/policy", files)
}

// buildAuditProvider serves /audit/{journal,decisions,export}. journal
// and decisions both currently read the same bounded ring — Journal
// keeps one undifferentiated ring rather than separate "all records" and
// "denial records" rings, so decisions is a named alias onto the same
// window rather than a distinct, pre-filtered view (documented in
// DESIGN.md). export reports only the journal's Dropped() count, as a
// "dropped=<n>" line; it does not say whether a durable sink is
// configured.
func buildAuditProvider(j *audit.Journal) namespace.Provider {
	recent := func() *providers.FileNode {
		return &providers.FileNode{
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return j.Recent(offset, count), nil
			},
		}
	}
	files := map[string]*providers.FileNode{
		"journal":   recent(),
		"decisions": recent(),
		"export": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte(fmt.Sprintf("dropped=%d\n", j.Dropped())), offset, count), nil
			},
		},
	}
	return providers.NewGenericProvider("/audit", files)
}

// buildHostProvider serves /host/{systemd,k8s,nvidia}: placeholder
// read-only status leaves for the three bridge integrations spec.md §3
// names. None of the three has a live host-side collaborator in this
// module (the seL4/host bridge sits outside its scope per spec.md §1),
// so each reports "unsupported" rather than fabricating data.
func buildHostProvider() namespace.Provider {
	unsupported := func() *providers.FileNode {
		return &providers.FileNode{
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return sliceWindow([]byte("unsupported\n"), offset, count), nil
			},
		}
	}
	return providers.NewGenericProvider("/host", map[string]*providers.FileNode{
		"systemd/status": unsupported(),
		"k8s/status":     unsupported(),
		"nvidia/status":  unsupported(),
	})
}

func sliceWindow(data []byte, offset uint64, count uint32) []byte {
	if offset >= uint64(len(data)) {
		return nil
	}
	end := offset + uint64(count)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end]
}
