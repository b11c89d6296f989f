package containerbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"distsim/internal/message"
)

// fakeDocker is a client.APIClient stub: embed the interface for the
// methods a test doesn't care about, override the ones it does.
type fakeDocker struct {
	client.APIClient
	attachReader *bufio.Reader
	conn         *captureConn
	calls        []string
}

func (f *fakeDocker) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.calls = append(f.calls, "Create")
	return container.CreateResponse{}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	f.calls = append(f.calls, "Start")
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, _ string, _ container.StopOptions) error {
	f.calls = append(f.calls, "Stop")
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, _ string, _ container.RemoveOptions) error {
	f.calls = append(f.calls, "Remove")
	return nil
}

func (f *fakeDocker) ImagePull(_ context.Context, _ string, _ image.PullOptions) (io.ReadCloser, error) {
	panic("ImagePull should not be called when ContainerCreate succeeds")
}

func (f *fakeDocker) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (dockertypes.HijackedResponse, error) {
	f.calls = append(f.calls, "Attach")
	return dockertypes.HijackedResponse{Reader: f.attachReader, Conn: f.conn}, nil
}

// captureConn is a net.Conn stub that records every Write; Read is unused
// since this package only ever reads through the attach.Reader demuxed
// stream.
type captureConn struct {
	writes [][]byte
}

func (c *captureConn) Read([]byte) (int, error)        { return 0, nil }
func (c *captureConn) Write(b []byte) (int, error)      { c.writes = append(c.writes, append([]byte(nil), b...)); return len(b), nil }
func (c *captureConn) Close() error                     { return nil }
func (c *captureConn) LocalAddr() net.Addr              { return nil }
func (c *captureConn) RemoteAddr() net.Addr             { return nil }
func (c *captureConn) SetDeadline(time.Time) error      { return nil }
func (c *captureConn) SetReadDeadline(time.Time) error  { return nil }
func (c *captureConn) SetWriteDeadline(time.Time) error { return nil }

// encodeStdoutFrames multiplexes each line as its own docker attach stdout
// frame: [stream=1, 0,0,0, size(BE uint32)] followed by the line and a
// trailing newline, matching the wire format stdcopy.StdCopy decodes.
func encodeStdoutFrames(lines ...string) []byte {
	var buf bytes.Buffer
	for _, line := range lines {
		payload := append([]byte(line), '\n')
		header := make([]byte, 8)
		header[0] = 1
		binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
		buf.Write(header)
		buf.Write(payload)
	}
	return buf.Bytes()
}

func TestBuildSendsInitThenProxiesReceiveMessage(t *testing.T) {
	initResp, _ := json.Marshal(response{})
	msgResp, _ := json.Marshal(response{
		Outbound: []wireOutbound{{Dst: "peer", Message: wireEnvelope{Kind: "ACK", Payload: `{"ok":true}`}}},
	})
	frames := encodeStdoutFrames(string(initResp), string(msgResp))

	docker := &fakeDocker{
		attachReader: bufio.NewReader(bytes.NewReader(frames)),
		conn:         &captureConn{},
	}
	b := New(docker, Config{Image: "test/node"}, "distsim-test")

	inst, err := b.Build("n1", map[string]any{"peers": []string{"n2"}}, 42)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(docker.conn.writes) != 1 {
		t.Fatalf("expected 1 write after Build (the init request), got %d", len(docker.conn.writes))
	}
	var initReq request
	if err := json.Unmarshal(docker.conn.writes[0], &initReq); err != nil {
		t.Fatalf("decode init request: %v", err)
	}
	if initReq.Op != "init" || initReq.Seed != 42 {
		t.Fatalf("init request = %+v, want op=init seed=42", initReq)
	}

	em, err := inst.ReceiveMessage("peer", message.Envelope{Kind: "PING", Payload: `{}`})
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if len(em.Outbound) != 1 || em.Outbound[0].Dst != "peer" || em.Outbound[0].Message.Kind != "ACK" {
		t.Fatalf("ReceiveMessage emissions = %+v, want one ACK to peer", em)
	}

	var msgReq request
	if err := json.Unmarshal(docker.conn.writes[1], &msgReq); err != nil {
		t.Fatalf("decode receive_message request: %v", err)
	}
	if msgReq.Op != "receive_message" || msgReq.Src != "peer" || msgReq.Message == nil || msgReq.Message.Kind != "PING" {
		t.Fatalf("receive_message request = %+v, want src=peer kind=PING", msgReq)
	}

	for _, want := range []string{"Create", "Start", "Attach"} {
		found := false
		for _, c := range docker.calls {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("docker calls = %v, missing %q", docker.calls, want)
		}
	}
}
