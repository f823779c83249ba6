package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"grantrag/internal/model"
	rabbitmqClient "grantrag/internal/platform/rabbitmq"
)

var errMalformedEvent = errors.New("malformed document event")

type DocumentStore interface {
	Upsert(doc *model.Document) error
}

// DocumentEventWorker consumes upload events and records document metadata.
type DocumentEventWorker struct {
	conn      *amqp.Connection
	repo      DocumentStore
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDocumentEventWorker(conn *amqp.Connection, repo DocumentStore, queueName string, logger *zap.Logger) *DocumentEventWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentEventWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *DocumentEventWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := rabbitmqClient.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(d.Body); err != nil {
					w.logger.Warn("document event dropped",
						zap.String("message_id", d.MessageId),
						zap.Error(err),
					)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *DocumentEventWorker) handle(body []byte) error {
	var event model.DocumentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if strings.TrimSpace(event.Filename) == "" {
		return fmt.Errorf("%w: missing filename", errMalformedEvent)
	}
	if err := w.repo.Upsert(event.ToDocument()); err != nil {
		return err
	}
	w.logger.Debug("document recorded", zap.String("filename", event.Filename))
	return nil
}

func (w *DocumentEventWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
