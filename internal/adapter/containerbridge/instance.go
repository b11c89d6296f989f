package containerbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"distsim/internal/message"
	"distsim/internal/node"
)

// instance proxies node.Instance over one container's attached stdio. The
// engine never calls a second method while a prior call is in flight, so
// request/response correlation is purely sequential: write one line,
// read the next line back. The mutex below guards against a caller that
// violates that contract rather than relying on it silently.
type instance struct {
	id   string
	name string
	cli  client.APIClient

	mu     sync.Mutex
	attach dockertypes.HijackedResponse
	lines  *bufio.Scanner
	stderr bytes.Buffer
}

func newInstance(id, name string, cli client.APIClient, attach dockertypes.HijackedResponse) *instance {
	stdoutR, stdoutW := io.Pipe()
	inst := &instance{id: id, name: name, cli: cli, attach: attach}

	go func() {
		_, _ = stdcopy.StdCopy(stdoutW, &inst.stderr, attach.Reader)
		_ = stdoutW.Close()
	}()

	scanner := bufio.NewScanner(stdoutR)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	inst.lines = scanner
	return inst
}

func (inst *instance) sendInit(ctorArgs any, seed int64) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	_, err := inst.roundTrip(request{Op: "init", CtorArgs: ctorArgs, Seed: seed})
	return err
}

func (inst *instance) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	resp, err := inst.roundTrip(request{Op: "receive_message", Src: src, Message: toWire(m)})
	if err != nil {
		return node.Emissions{}, err
	}
	return fromWire(resp), nil
}

func (inst *instance) ReceiveTimer(name string) (node.Emissions, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	resp, err := inst.roundTrip(request{Op: "receive_timer", Name: name})
	if err != nil {
		return node.Emissions{}, err
	}
	return fromWire(resp), nil
}

func (inst *instance) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	resp, err := inst.roundTrip(request{Op: "receive_local", Message: toWire(m)})
	if err != nil {
		return node.Emissions{}, err
	}
	return fromWire(resp), nil
}

// SnapshotMemory implements node.MemoryProber via the container's own cgroup
// stats rather than asking the bridged process to self-report, since a
// foreign implementation's own idea of "memory used" cannot be trusted any
// more than its protocol replies can.
func (inst *instance) SnapshotMemory() uint64 {
	resp, err := inst.cli.ContainerStatsOneShot(context.Background(), inst.name)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	var stats struct {
		MemoryStats struct {
			Usage uint64 `json:"usage"`
		} `json:"memory_stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0
	}
	return stats.MemoryStats.Usage
}

// Close stops the container backing this instance.
func (inst *instance) Close() {
	_ = inst.attach.Conn.Close()
	_ = stopAndRemove(context.Background(), inst.cli, inst.name)
}

// roundTrip writes req as one JSON line and decodes the next reply line.
// Caller must hold inst.mu.
func (inst *instance) roundTrip(req request) (response, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("containerbridge: marshal request: %w", err)
	}
	buf = append(buf, '\n')
	if _, err := inst.attach.Conn.Write(buf); err != nil {
		return response{}, fmt.Errorf("containerbridge: write to %q: %w", inst.id, err)
	}

	if !inst.lines.Scan() {
		err := inst.lines.Err()
		if err == nil {
			err = io.EOF
		}
		return response{}, fmt.Errorf("containerbridge: read from %q: %w (stderr: %s)", inst.id, err, inst.stderr.String())
	}

	var resp response
	if err := json.Unmarshal(inst.lines.Bytes(), &resp); err != nil {
		return response{}, fmt.Errorf("containerbridge: decode reply from %q: %w", inst.id, err)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("containerbridge: node %q reported error: %s", inst.id, resp.Error)
	}
	return resp, nil
}

func toWire(m message.Envelope) *wireEnvelope {
	return &wireEnvelope{Kind: m.Kind, Payload: m.Payload}
}

func fromWire(resp response) node.Emissions {
	em := node.Emissions{
		CancelTimers: resp.CancelTimers,
	}
	for _, o := range resp.Outbound {
		em.Outbound = append(em.Outbound, node.Outbound{
			Dst:     o.Dst,
			Message: message.Envelope{Kind: o.Message.Kind, Payload: o.Message.Payload},
		})
	}
	for _, t := range resp.SetTimers {
		em.SetTimers = append(em.SetTimers, node.TimerSet{Name: t.Name, Delay: t.Delay})
	}
	for _, l := range resp.LocalOutputs {
		em.LocalOutputs = append(em.LocalOutputs, message.Envelope{Kind: l.Kind, Payload: l.Payload})
	}
	return em
}
