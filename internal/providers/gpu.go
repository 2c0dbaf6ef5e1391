package providers

import (
	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/namespace"
)

type gpuDevice struct {
	info   []byte
	status []byte
}

// Gpu serves /gpu/<id>/{info,ctl,lease,status} (the host-bridge lease
// surface) plus /gpu/models/{available/<id>/manifest.toml,active} and
// /gpu/telemetry/{schema.json,<id>}. ctl and lease both forward their
// written lines to dispatch — the same verb-keyed router /queen/ctl
// uses — since a GPU lease is just a lease_add/lease_release command
// scoped to a device id rather than a distinct state machine.
//
// Grounded on providers.Worker's per-id slot-table shape, adapted from a
// fixed-capacity roster to a host-populated device set (RegisterDevice
// is called once per bridge-discovered GPU at boot, not on every
// spawn/kill cycle).
type Gpu struct {
	devices  map[string]*gpuDevice
	dispatch DispatchFunc

	modelsAvailable map[string][]byte
	modelsActive    []byte
	telemetrySchema []byte
	telemetryRings  map[string][]byte
}

// NewGpu builds an empty Gpu provider. dispatch receives every line
// written to <id>/ctl or <id>/lease.
func NewGpu(dispatch DispatchFunc) *Gpu {
	return &Gpu{
		devices:         make(map[string]*gpuDevice),
		dispatch:        dispatch,
		modelsAvailable: make(map[string][]byte),
		telemetryRings:  make(map[string][]byte),
	}
}

// RegisterDevice adds id to the roster with an initial info snapshot.
func (g *Gpu) RegisterDevice(id string, info []byte) {
	g.devices[id] = &gpuDevice{info: info}
}

// SetModelManifest installs id's available-model manifest.toml bytes.
func (g *Gpu) SetModelManifest(id string, manifest []byte) {
	g.modelsAvailable[id] = manifest
}

// SetActiveModel replaces the /gpu/models/active snapshot.
func (g *Gpu) SetActiveModel(active []byte) { g.modelsActive = active }

// SetTelemetrySchema installs the schema document served read-only at
// /gpu/telemetry/schema.json. Writes to /gpu/telemetry/<id> are appended
// without being checked against it.
func (g *Gpu) SetTelemetrySchema(schema []byte) { g.telemetrySchema = schema }

func (g *Gpu) Prefix() string { return "/gpu" }

func (g *Gpu) Describe(path []string) (codec.QidMeta, error) {
	if len(path) == 0 {
		return namespace.QidFor(codec.KindDir, "/gpu"), nil
	}
	switch path[0] {
	case "models":
		return g.describeModels(path[1:])
	case "telemetry":
		return g.describeTelemetry(path[1:])
	}
	_, ok := g.devices[path[0]]
	if !ok {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown gpu device")
	}
	if len(path) == 1 {
		return namespace.QidFor(codec.KindDir, "/gpu/"+path[0]), nil
	}
	if len(path) != 2 {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	switch path[1] {
	case "info", "status":
		return namespace.QidFor(codec.KindRegReadOnly, "/gpu/"+path[0]+"/"+path[1]), nil
	case "ctl", "lease":
		return namespace.QidFor(codec.KindRegAppendOnly, "/gpu/"+path[0]+"/"+path[1]), nil
	default:
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
}

func (g *Gpu) describeModels(rest []string) (codec.QidMeta, error) {
	if len(rest) == 0 {
		return namespace.QidFor(codec.KindDir, "/gpu/models"), nil
	}
	switch rest[0] {
	case "active":
		if len(rest) == 1 {
			return namespace.QidFor(codec.KindRegReadOnly, "/gpu/models/active"), nil
		}
	case "available":
		if len(rest) == 1 {
			return namespace.QidFor(codec.KindDir, "/gpu/models/available"), nil
		}
		if len(rest) == 2 {
			if _, ok := g.modelsAvailable[rest[1]]; !ok {
				return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown model id")
			}
			return namespace.QidFor(codec.KindDir, "/gpu/models/available/"+rest[1]), nil
		}
		if len(rest) == 3 && rest[2] == "manifest.toml" {
			if _, ok := g.modelsAvailable[rest[1]]; !ok {
				return codec.QidMeta{}, cerr.New(cerr.NotFound, "unknown model id")
			}
			return namespace.QidFor(codec.KindRegReadOnly, "/gpu/models/available/"+rest[1]+"/manifest.toml"), nil
		}
	}
	return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
}

func (g *Gpu) describeTelemetry(rest []string) (codec.QidMeta, error) {
	if len(rest) == 0 {
		return namespace.QidFor(codec.KindDir, "/gpu/telemetry"), nil
	}
	if len(rest) != 1 {
		return codec.QidMeta{}, cerr.New(cerr.NotFound, "no such node")
	}
	if rest[0] == "schema.json" {
		return namespace.QidFor(codec.KindRegReadOnly, "/gpu/telemetry/schema.json"), nil
	}
	return namespace.QidFor(codec.KindRegAppendOnly, "/gpu/telemetry/"+rest[0]), nil
}

func (g *Gpu) Open(path []string, mode codec.OpenMode) error { return nil }

func (g *Gpu) Read(path []string, offset uint64, count uint32) ([]byte, error) {
	if len(path) == 0 {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	switch path[0] {
	case "models":
		return g.readModels(path[1:], offset, count)
	case "telemetry":
		return g.readTelemetry(path[1:], offset, count)
	}
	dev, ok := g.devices[path[0]]
	if !ok {
		return nil, cerr.New(cerr.NotFound, "unknown gpu device")
	}
	if len(path) != 2 {
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
	switch path[1] {
	case "info":
		return windowBytes(dev.info, offset, count), nil
	case "status":
		return windowBytes(dev.status, offset, count), nil
	default:
		return nil, cerr.New(cerr.Permission, "node is not readable")
	}
}

func (g *Gpu) readModels(rest []string, offset uint64, count uint32) ([]byte, error) {
	if len(rest) == 1 && rest[0] == "active" {
		return windowBytes(g.modelsActive, offset, count), nil
	}
	if len(rest) == 3 && rest[0] == "available" && rest[2] == "manifest.toml" {
		data, ok := g.modelsAvailable[rest[1]]
		if !ok {
			return nil, cerr.New(cerr.NotFound, "unknown model id")
		}
		return windowBytes(data, offset, count), nil
	}
	return nil, cerr.New(cerr.Permission, "node is not readable")
}

func (g *Gpu) readTelemetry(rest []string, offset uint64, count uint32) ([]byte, error) {
	if len(rest) == 1 && rest[0] == "schema.json" {
		return windowBytes(g.telemetrySchema, offset, count), nil
	}
	return nil, cerr.New(cerr.Permission, "node is not readable")
}

func (g *Gpu) Write(path []string, offset uint64, data []byte) (uint32, error) {
	if len(path) == 2 {
		if _, ok := g.devices[path[0]]; ok {
			switch path[1] {
			case "ctl", "lease":
				if err := g.dispatch(data); err != nil {
					return 0, err
				}
				return uint32(len(data)), nil
			}
		}
	}
	if len(path) == 2 && path[0] == "telemetry" && path[1] != "schema.json" {
		g.telemetryRings[path[1]] = append(g.telemetryRings[path[1]], data...)
		return uint32(len(data)), nil
	}
	return 0, cerr.New(cerr.Permission, "node is not writable")
}
