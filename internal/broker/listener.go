package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/invigo-mfg/invigo-server/pkg/database"
	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// Channels the listener subscribes to. Triggers on the underlying tables
// publish row events here.
var listenChannels = []string{
	"jobs",
	"components",
	"nests",
	"assemblies",
	"assembly_laser_cut_parts",
	"view_grouped_laser_cut_parts_by_job",
}

const reconnectDelay = 5 * time.Second

// JobFetcher loads a job document so insert/update broadcasts can carry the
// fresh state.
type JobFetcher interface {
	Get(ctx context.Context, id int64) (map[string]interface{}, error)
}

// Listener holds one dedicated Postgres connection in LISTEN mode and
// translates notifications into typed hub broadcasts.
type Listener struct {
	cfg    database.PostgreSQLConfig
	hub    *Hub
	jobs   JobFetcher
	logger *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a listener. Start begins the subscribe loop.
func NewListener(cfg database.PostgreSQLConfig, hub *Hub, jobs JobFetcher, log *logger.Logger) *Listener {
	return &Listener{
		cfg:    cfg,
		hub:    hub,
		jobs:   jobs,
		logger: log,
		done:   make(chan struct{}),
	}
}

// Start runs the LISTEN loop in the background. A broken connection is
// re-established after a short delay; subscriptions are replayed on every
// reconnect.
func (l *Listener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	go func() {
		defer close(l.done)
		for {
			if err := l.listen(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Errorf("Notification listener lost connection: %v", err)
			}

			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the listener and waits for the loop to exit.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *Listener) listen(ctx context.Context) error {
	connConfig, err := l.cfg.ConnConfig()
	if err != nil {
		return err
	}

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	for _, channel := range listenChannels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return err
		}
	}
	l.logger.Infof("Listening for changes on %s", strings.Join(listenChannels, ", "))

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, notification.Channel, notification.Payload)
	}
}

// dispatch translates one row event into a client-facing message.
func (l *Listener) dispatch(ctx context.Context, channel, payload string) {
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.logger.Warnf("Ignoring malformed notification on %s: %v", channel, err)
		return
	}

	op, _ := event["type"].(string)

	var msg map[string]interface{}
	switch channel {
	case "jobs":
		msg = l.jobMessage(ctx, op, event)
	case "components":
		msg = map[string]interface{}{
			"type":      "component_changed",
			"operation": strings.ToLower(op),
			"id":        event["id"],
		}
	case "view_grouped_laser_cut_parts_by_job":
		msg = map[string]interface{}{
			"type":          "grouped_parts_job_view_changed",
			"operation":     strings.ToLower(op),
			"job_id":        event["job_id"],
			"part_name":     event["part_name"],
			"flowtag":       event["flowtag"],
			"flowtag_index": event["flowtag_index"],
		}
	default:
		msg = map[string]interface{}{
			"type":      channel + "_changed",
			"operation": strings.ToLower(op),
			"job_id":    event["job_id"],
			"part_name": event["part_name"],
		}
	}

	if msg == nil {
		return
	}
	if err := l.hub.Broadcast(ClassWorkspace, msg); err != nil {
		l.logger.Errorf("Failed to broadcast %s event: %v", channel, err)
	}
}

// jobMessage maps a jobs-table row event onto the wire vocabulary desktop
// clients understand. Inserts and updates carry the fresh job document.
func (l *Listener) jobMessage(ctx context.Context, op string, event map[string]interface{}) map[string]interface{} {
	jobID, _ := event["job_id"].(float64)

	switch op {
	case "INSERT", "UPDATE":
		msgType := "job_insert"
		if op == "UPDATE" {
			msgType = "job_update"
		}
		msg := map[string]interface{}{"type": msgType, "job_id": int64(jobID)}

		if l.jobs != nil {
			job, err := l.jobs.Get(ctx, int64(jobID))
			if err != nil {
				l.logger.Warnf("Failed to fetch job %d for broadcast: %v", int64(jobID), err)
			} else {
				msg["job"] = job
			}
		}
		return msg

	case "DELETE":
		return map[string]interface{}{"type": "job_deleted", "job_id": int64(jobID)}
	}
	return nil
}
