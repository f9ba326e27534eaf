package toolhost

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// stdioConn is one JSON-RPC connection over a byte stream, usually a
// provider subprocess's stdio. Responses are matched to requests by
// ID; requests arriving from the far side (sampling) are dispatched to
// the handler.
type stdioConn struct {
	name    string
	w       io.WriteCloser
	sampler Sampler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *wireMessage

	nextID    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once

	// set when wrapping a subprocess
	cmd *exec.Cmd
}

// newStdioConn starts the read loop over the given byte streams.
func newStdioConn(name string, w io.WriteCloser, r io.Reader, sampler Sampler) *stdioConn {
	c := &stdioConn{
		name:    name,
		w:       w,
		sampler: sampler,
		pending: make(map[int64]chan *wireMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// dialStdio launches the provider subprocess and connects to its
// stdio. Stderr is forwarded to the host log line by line.
func dialStdio(cfg ProviderConfig, sampler Sampler) (*stdioConn, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start provider: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("provider %s: %s", cfg.Name, scanner.Text())
		}
	}()

	c := newStdioConn(cfg.Name, stdin, stdout, sampler)
	c.cmd = cmd
	return c, nil
}

// call sends a request and blocks for its response, decoding the
// result into out when out is non-nil.
func (c *stdioConn) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}

	ch := make(chan *wireMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg := wireMessage{JSONRPC: "2.0", ID: &id, Method: method, Params: rawParams}
	if err := c.write(&msg); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("provider %s: connection closed", c.name)
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("provider %s: %s (code %d)", c.name, resp.Error.Message, resp.Error.Code)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *stdioConn) write(msg *wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(append(data, '\n'))
	return err
}

func (c *stdioConn) readLoop(r io.Reader) {
	defer close(c.done)

	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var msg wireMessage
		if err := dec.Decode(&msg); err != nil {
			if err != io.EOF {
				log.Printf("provider %s: read: %v", c.name, err)
			}
			return
		}

		if msg.Method != "" {
			// Request from the provider side.
			go c.handleIncoming(&msg)
			continue
		}

		if msg.ID == nil {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*msg.ID]
		c.pendingMu.Unlock()
		if ok {
			m := msg
			ch <- &m
		}
	}
}

// handleIncoming answers provider-initiated requests. Only sampling is
// supported.
func (c *stdioConn) handleIncoming(msg *wireMessage) {
	resp := wireMessage{JSONRPC: "2.0", ID: msg.ID}

	switch msg.Method {
	case methodSampling:
		var params samplingParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			resp.Error = &wireError{Code: codeInternalError, Message: "bad sampling params"}
			break
		}
		if c.sampler == nil {
			resp.Error = &wireError{Code: codeInternalError, Message: "sampling not available"}
			break
		}
		content, err := c.sampler(context.Background(), params.Prompt)
		if err != nil {
			resp.Error = &wireError{Code: codeInternalError, Message: err.Error()}
			break
		}
		result, _ := json.Marshal(samplingResult{Content: content})
		resp.Result = result
	default:
		resp.Error = &wireError{Code: codeMethodNotFound, Message: "unsupported method: " + msg.Method}
	}

	if err := c.write(&resp); err != nil {
		log.Printf("provider %s: respond %s: %v", c.name, msg.Method, err)
	}
}

// close shuts the connection down and reaps the subprocess if there is
// one. Idempotent.
func (c *stdioConn) close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.w.Close()

		if c.cmd != nil {
			waited := make(chan struct{})
			go func() {
				_ = c.cmd.Wait()
				close(waited)
			}()
			select {
			case <-waited:
			case <-time.After(2 * time.Second):
				_ = c.cmd.Process.Kill()
				<-waited
			}
		}
	})
	return err
}
