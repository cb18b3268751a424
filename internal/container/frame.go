// Package container implements the container manager (C12): hardened,
// network-policy-enforced sandboxed execution over a length-prefixed JSON
// IPC channel, grounded on the teacher's vsock framing
// (internal/tools/sandbox/firecracker/vsock.go) but shelled out to the
// docker CLI instead of a Firecracker guest agent.
package container

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single IPC frame, mirroring vsock.go's 10MB cap.
const MaxFrameSize = 10 << 20

// FrameType enumerates the IPC envelope's type discriminator (§6).
type FrameType string

const (
	FrameExecute       FrameType = "execute"
	FrameCredential    FrameType = "credential"
	FrameResult        FrameType = "result"
	FrameCredentialAck FrameType = "credential_ack"
	FrameError         FrameType = "error"
)

// Request is one host-to-container IPC request.
type Request struct {
	Type FrameType `json:"type"`
	ID   uint64    `json:"id"`

	Command string            `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout int               `json:"timeoutMs,omitempty"`

	CredentialName  string `json:"credentialName,omitempty"`
	CredentialValue string `json:"credentialValue,omitempty"`
}

// Response is one container-to-host IPC response.
type Response struct {
	Type FrameType `json:"type"`
	ID   uint64    `json:"id,omitempty"`

	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// WriteFrame writes one length-prefixed JSON frame: a 4-byte little-endian
// length followed by the JSON body, exactly matching vsock.go's wire shape.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("container: marshal frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("container: frame exceeds max size %d", MaxFrameSize)
	}
	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := w.Write(lengthBuf); err != nil {
		return fmt.Errorf("container: write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("container: write frame body: %w", err)
	}
	return nil
}

// FrameDecoder consumes a byte stream and invokes a callback per complete
// JSON frame. It is fully synchronous and has no I/O of its own beyond the
// reader passed to Run, matching §9's design note that framing stays
// separate from I/O.
type FrameDecoder struct {
	r *bufio.Reader
}

// NewFrameDecoder wraps r for frame-at-a-time decoding.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: bufio.NewReader(r)}
}

// Next reads and returns the next frame body, or io.EOF when the stream ends
// cleanly between frames.
func (d *FrameDecoder) Next() ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(d.r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("container: frame length %d exceeds max %d", length, MaxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("container: read frame body: %w", err)
	}
	return body, nil
}

// Run reads frames until EOF or error, invoking cb for each decoded
// Response.
func (d *FrameDecoder) Run(cb func(Response) error) error {
	for {
		body, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("container: decode frame: %w", err)
		}
		if err := cb(resp); err != nil {
			return err
		}
	}
}
