// Command batsimd is the simulator entrypoint (spec.md §6): it loads a
// platform and one or more workload/workflow files, opens the scheduler
// socket (or runs in batexec mode without one), drives the kernel, and
// writes the persisted trace outputs once the termination predicate
// holds.
//
// Flag parsing and startup wiring follow the teacher's single rootCmd +
// cobra.OnInitialize(initLogging) shape; unlike the teacher this binary
// has no subcommand tree, since spec.md §6 describes one flat flag
// surface rather than a `noun verb` CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/batsim-go/batsim/pkg/checkpoint"
	"github.com/batsim-go/batsim/pkg/config"
	"github.com/batsim-go/batsim/pkg/executor"
	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/log"
	"github.com/batsim-go/batsim/pkg/machine"
	"github.com/batsim-go/batsim/pkg/metrics"
	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/observer"
	"github.com/batsim-go/batsim/pkg/orchestrator"
	"github.com/batsim-go/batsim/pkg/platform"
	"github.com/batsim-go/batsim/pkg/protocol"
	"github.com/batsim-go/batsim/pkg/simerrors"
	"github.com/batsim-go/batsim/pkg/tracer"
	"github.com/batsim-go/batsim/pkg/transport"
	"github.com/batsim-go/batsim/pkg/workload"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "batsimd",
	Short:   "Discrete-event batch-scheduling simulation server",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("batsimd version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	f := rootCmd.Flags()
	f.StringP("platform", "p", "", "Platform description file (required)")
	f.StringArrayP("workload", "w", nil, "Workload file; may be repeated")
	f.StringArrayP("workflow", "W", nil, "Workflow file with optional start time (FILE[:t]); may be repeated")
	f.StringP("socket", "s", "/tmp/bat_socket", "Scheduler socket path")
	f.StringP("master-host", "m", "master_host", "Master host name")
	f.StringP("output-prefix", "e", "out", "Output file prefix")
	f.BoolP("energy", "E", false, "Enable energy accounting")
	f.BoolP("space-sharing", "h", false, "Allow space sharing")
	f.IntP("limit-machines", "l", -1, "Limit compute machines to N (-1 = all)")
	f.BoolP("limit-by-workload", "L", false, "Also limit by workload-declared count; take the min")
	f.BoolP("quiet", "q", false, "Quiet: only log warnings and errors")
	f.BoolP("verbose", "v", false, "Verbose: log at debug level")
	f.BoolP("no-schedule-trace", "T", false, "Disable schedule tracing")
	f.BoolP("no-machine-trace", "U", false, "Disable machine-state tracing")
	f.BoolP("batexec", "c", false, "Run all jobs sequentially without an external scheduler")
	f.String("encoding", "json", "Scheduler wire encoding: json or legacy")
	f.String("metrics-addr", "", "If set, serve /metrics and /observe on this address")
	f.Float64("checkpoint-every", 0, "If > 0, write a checkpoint every N simulated seconds to <prefix>_checkpoint.db")
	f.String("scenario", "", "Load a YAML scenario manifest instead of flags (-f)")
	f.Lookup("scenario").Shorthand = "f"
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	applyVerbosity(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		startMetricsServer(metricsAddr)
	}

	plat, err := platform.Load(cfg.PlatformFile)
	if err != nil {
		metrics.RegisterComponent("platform", false, err.Error())
		return simerrors.NewConfigError("loading platform: %v", err)
	}
	metrics.RegisterComponent("platform", true, cfg.PlatformFile)

	workloads := workload.NewSet()
	declaredCount := 0
	for i, path := range cfg.WorkloadFiles {
		name := workloadShortName(path, i)
		w, err := workload.Load(name, path)
		if err != nil {
			return simerrors.NewConfigError("loading workload: %v", err)
		}
		if err := workloads.Add(w); err != nil {
			return simerrors.NewConfigError("%v", err)
		}
		declaredCount += len(w.Jobs())
	}
	for i, wf := range cfg.WorkflowFiles {
		name := workloadShortName(wf.Path, len(cfg.WorkloadFiles)+i)
		w, err := workload.Load(name, wf.Path)
		if err != nil {
			return simerrors.NewConfigError("loading workflow: %v", err)
		}
		w.OffsetSubmissionTimes(wf.StartTime)
		if err := workloads.Add(w); err != nil {
			return simerrors.NewConfigError("%v", err)
		}
		declaredCount += len(w.Jobs())
	}

	limit := cfg.LimitMachines
	if cfg.LimitByWorkload && declaredCount > 0 && (limit < 0 || declaredCount < limit) {
		limit = declaredCount
	}

	registry, err := machine.NewRegistry(plat, cfg.MasterHost, machine.Options{
		SpaceSharingAllowed: cfg.SpaceSharing,
		EnergyEnabled:       cfg.EnergyEnabled,
		LimitMachineCount:   limit,
	})
	if err != nil {
		metrics.RegisterComponent("registry", false, err.Error())
		return simerrors.NewConfigError("%v", err)
	}
	metrics.RegisterComponent("registry", true, fmt.Sprintf("%d machines", registry.Count()))

	k := kernel.New()
	switcher := machine.NewSwitcher(k, registry)

	trc, err := tracer.New(cfg.OutputPrefix, !cfg.DisableSchedule, !cfg.DisableMachine)
	if err != nil {
		return fmt.Errorf("batsimd: %w", err)
	}

	var broker *observer.Broker
	if metricsAddr != "" {
		broker = observer.NewBroker()
		http.Handle("/observe", broker)
	}

	var store *checkpoint.Store
	if cfg.CheckpointEvery > 0 {
		if cfg.OutputPrefix == "" {
			return simerrors.NewConfigError("output prefix (-e) is required when -checkpoint-every > 0")
		}
		store, err = checkpoint.Open(cfg.OutputPrefix + "_checkpoint.db")
		if err != nil {
			return fmt.Errorf("batsimd: %w", err)
		}
		defer store.Close()
	}

	profileLookup := combinedProfileLookup(workloads)

	encoding := protocol.EncodingJSON
	if cfg.Encoding == "legacy" {
		encoding = protocol.EncodingLegacy
	}

	if cfg.Batexec {
		return runBatexec(k, registry, switcher, workloads, profileLookup, trc, broker, cfg, store, metricsAddr)
	}
	return runSocket(k, registry, switcher, workloads, profileLookup, trc, broker, cfg, encoding, store, metricsAddr)
}

// runSocket accepts one scheduler connection over the Unix-domain socket
// and drives the server loop through the protocol adapter, the normal
// deployment mode (spec.md §4.5).
func runSocket(k *kernel.Kernel, reg *machine.Registry, sw *machine.Switcher, workloads *workload.Set,
	profiles executor.ProfileLookup, trc *tracer.Tracer, broker *observer.Broker, cfg config.Config,
	encoding protocol.Encoding, store *checkpoint.Store, metricsAddr string) error {

	listener, err := transport.Listen(cfg.SocketPath)
	if err != nil {
		return simerrors.NewConfigError("%v", err)
	}
	defer listener.Close()

	log.WithComponent("batsimd").Info().Str("socket", cfg.SocketPath).Msg("waiting for scheduler connection")
	metrics.RegisterComponent("scheduler", false, "waiting for connection")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	conn, err := transport.Accept(ctx, listener)
	if err != nil {
		metrics.UpdateComponent("scheduler", false, err.Error())
		return simerrors.NewConfigError("accepting scheduler connection: %v", err)
	}
	defer conn.Close()
	metrics.UpdateComponent("scheduler", true, "connected")

	adapter := protocol.New(conn, k, encoding)

	var tr orchestrator.Tracer = trc
	if broker != nil {
		tr = multiTracer{trc, broker}
	}

	srv := orchestrator.New(k, reg, sw, adapter, workloads.Lookup, profiles, tr)
	adapter.Append(protocol.OutEvent{Timestamp: 0, Type: protocol.OutSimulationBegins})

	if metricsAddr != "" {
		collector := metrics.NewCollector(srv, 0)
		collector.Start()
		defer collector.Stop()
	}

	k.Spawn(func() { driveSubmission(k, srv.Mailbox(), workloads) })
	if store != nil {
		k.Spawn(func() { driveCheckpoints(k, reg, cfg.CheckpointEvery, store) })
	}

	// Run itself must be a kernel task, not a call on this bare goroutine:
	// it Deactivates/Reactivates around its mailbox receive, which is
	// only meaningful for a task the kernel is tracking, and it must
	// take its turn on the run baton like every executor and switcher it
	// shares the registry with.
	runErr := make(chan error, 1)
	k.Spawn(func() { runErr <- srv.Run() })
	if err := <-runErr; err != nil {
		return fmt.Errorf("batsimd: %w", err)
	}

	return finish(k, reg, trc, srv.Counters(), cfg)
}

// runBatexec runs every loaded job to completion sequentially, without a
// scheduler socket: a minimal in-process allocator feeds one EXECUTE_JOB
// decision at a time directly into the server, bypassing
// pkg/transport/pkg/protocol entirely (spec.md §6's `-c` flag,
// supplemented per SPEC_FULL.md §12 since spec.md itself only names the
// mode, not its allocation policy).
func runBatexec(k *kernel.Kernel, reg *machine.Registry, sw *machine.Switcher, workloads *workload.Set,
	profiles executor.ProfileLookup, trc *tracer.Tracer, broker *observer.Broker, cfg config.Config, store *checkpoint.Store, metricsAddr string) error {

	// batexec has no external scheduler to wait for; it's ready the
	// moment the allocator is wired up.
	metrics.RegisterComponent("scheduler", true, "batexec (no external scheduler)")

	// batexec talks to itself: a loopback Conn would need a real socket
	// pair, so the batexec allocator is wired directly onto the
	// orchestrator's mailbox instead of through a protocol.Adapter, and
	// it also doubles as the Tracer that learns of each job's completion
	// (there is no external scheduler to tell it instead).
	adapter := protocol.New(nil, k, protocol.EncodingJSON)
	allocator := newBatexecAllocator(reg, nil)

	var tr orchestrator.Tracer = multiTracer{trc, allocator}
	if broker != nil {
		tr = multiTracer{multiTracer{trc, broker}, allocator}
	}

	srv := orchestrator.New(k, reg, sw, adapter, workloads.Lookup, profiles, tr)
	allocator.mailbox = srv.Mailbox()

	if metricsAddr != "" {
		collector := metrics.NewCollector(srv, 0)
		collector.Start()
		defer collector.Stop()
	}

	k.Spawn(func() { allocator.run(k, workloads) })
	if store != nil {
		k.Spawn(func() { driveCheckpoints(k, reg, cfg.CheckpointEvery, store) })
	}

	runErr := make(chan error, 1)
	k.Spawn(func() { runErr <- srv.Run() })
	if err := <-runErr; err != nil {
		return fmt.Errorf("batsimd: %w", err)
	}
	return finish(k, reg, trc, srv.Counters(), cfg)
}

func finish(k *kernel.Kernel, reg *machine.Registry, trc *tracer.Tracer, counters model.Counters, cfg config.Config) error {
	makespan := k.Now()
	var totalEnergy float64
	if reg.EnergyEnabled() {
		totalEnergy = reg.TotalConsumedEnergy(makespan)
	}
	if err := trc.Close(); err != nil {
		return fmt.Errorf("batsimd: %w", err)
	}
	if err := tracer.WriteSummary(cfg.OutputPrefix, counters, makespan, totalEnergy); err != nil {
		return fmt.Errorf("batsimd: %w", err)
	}
	log.WithComponent("batsimd").Info().Float64("makespan", makespan).Msg("simulation complete")
	return nil
}

// driveSubmission posts SUBMITTER_HELLO, one JOB_SUBMITTED per job at its
// submission time (sleeping between submissions), and SUBMITTER_BYE once
// every loaded workload's jobs have all been submitted. This is the
// concrete static submitter spec.md §4.1 assumes exists upstream of the
// mailbox but leaves unspecified as "out of scope" (external
// collaborator); SPEC_FULL.md §12 supplements it.
func driveSubmission(k *kernel.Kernel, mailbox chan<- orchestrator.Message, workloads *workload.Set) {
	const submitterName = "static"
	mailbox <- orchestrator.Message{Kind: orchestrator.SubmitterHello, Submitter: submitterName}

	var jobs []*model.Job
	for _, w := range workloads.All() {
		jobs = append(jobs, w.Jobs()...)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmissionTime < jobs[j].SubmissionTime })

	last := 0.0
	for _, j := range jobs {
		if wait := j.SubmissionTime - last; wait > 0 {
			k.Sleep(wait)
		}
		last = j.SubmissionTime
		mailbox <- orchestrator.Message{Kind: orchestrator.JobSubmitted, JobID: j.ID, Submitter: submitterName}
	}
	mailbox <- orchestrator.Message{Kind: orchestrator.SubmitterBye, Submitter: submitterName}
}

// driveCheckpoints periodically snapshots machine state while the
// simulation runs, a persistence supplement beyond spec.md's scope.
func driveCheckpoints(k *kernel.Kernel, reg *machine.Registry, every float64, store *checkpoint.Store) {
	for {
		k.Sleep(every)
		snap := checkpoint.Snapshot{SimulatedTime: k.Now(), Machines: reg.All()}
		if err := store.Save(snap); err != nil {
			log.WithComponent("checkpoint").Error().Err(err).Msg("failed to save checkpoint")
		}
	}
}

func startMetricsServer(addr string) {
	metrics.SetVersion(Version)
	http.Handle("/metrics", metrics.Handler())
	http.Handle("/healthz", metrics.HealthHandler())
	http.Handle("/readyz", metrics.ReadyHandler())
	http.Handle("/livez", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.WithComponent("batsimd").Info().Str("addr", addr).Msg("metrics server listening")
}

func workloadShortName(path string, index int) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".json")
	if base == "" {
		base = "workload" + strconv.Itoa(index)
	}
	return base
}

// combinedProfileLookup resolves a profile name by scanning every loaded
// workload, since pkg/executor.ProfileLookup carries no workload context
// and pkg/workload.Set.ProfileLookup searches one named workload only.
// Correct as long as profile names are unique across a run's workloads,
// the common case; a collision silently picks the first match in
// Set.All's map iteration order, which is not defined (documented in
// DESIGN.md).
func combinedProfileLookup(ws *workload.Set) executor.ProfileLookup {
	return func(name string) (*model.Profile, error) {
		for _, w := range ws.All() {
			if p, err := w.Profile(name); err == nil {
				return p, nil
			}
		}
		return nil, fmt.Errorf("profile %q not found in any loaded workload", name)
	}
}

// multiTracer fans JobCompleted/PstateChanged out to the CSV/Pajé tracer
// and the websocket observer broker together.
type multiTracer struct {
	a orchestrator.Tracer
	b orchestrator.Tracer
}

func (m multiTracer) JobCompleted(job *model.Job, result executor.Result) {
	m.a.JobCompleted(job, result)
	m.b.JobCompleted(job, result)
}

func (m multiTracer) PstateChanged(machineID, pstate int, at float64) {
	m.a.PstateChanged(machineID, pstate, at)
	m.b.PstateChanged(machineID, pstate, at)
}

func buildConfig(cmd *cobra.Command) (config.Config, error) {
	if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
		return config.LoadManifest(scenario)
	}

	f := cmd.Flags()
	cfg := config.Default()
	cfg.PlatformFile, _ = f.GetString("platform")
	cfg.WorkloadFiles, _ = f.GetStringArray("workload")
	rawFlows, _ := f.GetStringArray("workflow")
	for _, raw := range rawFlows {
		path, start := raw, 0.0
		if i := strings.LastIndexByte(raw, ':'); i >= 0 {
			if v, err := strconv.ParseFloat(raw[i+1:], 64); err == nil {
				path, start = raw[:i], v
			}
		}
		cfg.WorkflowFiles = append(cfg.WorkflowFiles, config.WorkflowFile{Path: path, StartTime: start})
	}
	cfg.SocketPath, _ = f.GetString("socket")
	cfg.MasterHost, _ = f.GetString("master-host")
	cfg.OutputPrefix, _ = f.GetString("output-prefix")
	cfg.EnergyEnabled, _ = f.GetBool("energy")
	cfg.SpaceSharing, _ = f.GetBool("space-sharing")
	cfg.LimitMachines, _ = f.GetInt("limit-machines")
	cfg.LimitByWorkload, _ = f.GetBool("limit-by-workload")
	cfg.DisableSchedule, _ = f.GetBool("no-schedule-trace")
	cfg.DisableMachine, _ = f.GetBool("no-machine-trace")
	cfg.Batexec, _ = f.GetBool("batexec")
	cfg.Encoding, _ = f.GetString("encoding")
	cfg.CheckpointEvery, _ = f.GetFloat64("checkpoint-every")
	return cfg, nil
}

func applyVerbosity(cmd *cobra.Command, cfg *config.Config) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	switch {
	case quiet:
		cfg.Verbosity = "error"
	case verbose:
		cfg.Verbosity = "debug"
	}
	zerologLevel := cfg.Verbosity
	log.Init(log.Config{Level: log.Level(zerologLevel)})
}
