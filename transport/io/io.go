// Package io provides a reader/writer pair transport for mediabridge. Each
// context tails one file (or FIFO) for inbound frames and appends outbound
// frames to another, so the engine and media contexts can live in separate
// processes on one host by crossing the two paths.
package io

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/evillard/mediabridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// Stdio selects stdin/stdout instead of a file path.
const Stdio = "-"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(path string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{path: path, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(path string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{path: path, logger: logger}, nil
}

// Register registers the I/O transport with the default registry. Call it
// from an init() in an importing package, or explicitly before use.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport. Outbound frames go to the output file,
// inbound frames are tailed from the input file.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, err := PublisherFactory(cfg.GetOutputFile(), logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(cfg.GetInputFile(), logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// storedMessage is the JSON framing for persisted messages, one per line.
type storedMessage struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata"`
	Payload  []byte            `json:"payload"`
	Topic    string            `json:"topic"`
}

// Publisher appends messages to the output file.
type Publisher struct {
	path   string
	logger watermill.LoggerAdapter
	mu     sync.Mutex
}

// Publish writes messages as JSON lines.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var w io.Writer
	if p.path == Stdio {
		w = os.Stdout
	} else {
		f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	for _, msg := range messages {
		sm := storedMessage{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
			Topic:    topic,
		}

		b, err := json.Marshal(sm)
		if err != nil {
			return err
		}

		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails the input file for messages.
type Subscriber struct {
	path   string
	logger watermill.LoggerAdapter
}

// Subscribe delivers messages whose topic matches, in file order.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)

	go func() {
		defer close(out)

		var f *os.File
		if s.path == Stdio {
			f = os.Stdin
		} else {
			var err error
			f, err = os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0600)
			if err != nil {
				s.logger.Error("Failed to open input file", err, nil)
				return
			}
			defer f.Close()
		}

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				line, err := reader.ReadBytes('\n')
				if err != nil {
					if err == io.EOF {
						if s.path == Stdio {
							return
						}
						if !s.handleEOF(f, reader, &lastPos) {
							return
						}
						continue
					}
					s.logger.Error("Failed to read input file", err, nil)
					return
				}

				// Update position after a successful read.
				currentPos, _ := f.Seek(0, io.SeekCurrent)
				lastPos = currentPos - int64(reader.Buffered())

				if !s.processMessage(ctx, out, line, topic) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

func (s *Subscriber) handleEOF(f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	currentPos, _ := f.Seek(0, io.SeekCurrent)
	currentPos -= int64(reader.Buffered())

	if currentPos > *lastPos {
		*lastPos = currentPos
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek input file", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

func (s *Subscriber) processMessage(ctx context.Context, out chan<- *message.Message, line []byte, topic string) bool {
	var sm storedMessage
	if err := json.Unmarshal(line, &sm); err != nil {
		s.logger.Error("Failed to unmarshal message", err, nil)
		return true
	}

	if sm.Topic != topic {
		return true
	}

	msg := message.NewMessage(sm.UUID, sm.Payload)
	msg.Metadata = sm.Metadata

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
