package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/appseed/core"
	"github.com/relabs-tech/appseed/core/logger"
	"github.com/relabs-tech/appseed/core/notify"
)

// outboxEntry is a notification waiting for the publisher
type outboxEntry struct {
	Serial       int
	AppID        int
	Type         string
	Action       string
	ResourceID   int
	Payload      []byte
	Timestamp    time.Time
	AttemptsLeft int
	ContextData  []byte
}

func (e *outboxEntry) message() (notify.Message, context.Context) {
	ctx := logger.ContextWithLoggerFromData(context.Background(), e.ContextData)
	return notify.Message{
		AppID:      e.AppID,
		Type:       e.Type,
		Action:     core.Operation(e.Action),
		ResourceID: e.ResourceID,
		Payload:    e.Payload,
	}, ctx
}

type txOutboxEntry struct {
	outboxEntry
	tx *sql.Tx
}

func (b *Backend) createOutboxTable() {
	_, err := b.db.Exec(`CREATE table IF NOT EXISTS ` + b.db.Table("_outbox_") + `
(serial SERIAL,
app_id INTEGER NOT NULL,
type VARCHAR NOT NULL,
action VARCHAR NOT NULL,
resource_id INTEGER NOT NULL,
payload JSON NOT NULL DEFAULT '{}'::json,
timestamp TIMESTAMP NOT NULL,
attempts_left INTEGER NOT NULL,
context JSON NOT NULL DEFAULT '{}'::json,
scheduled_at TIMESTAMP,
PRIMARY KEY(serial)
);
CREATE index IF NOT EXISTS outbox_scheduled_at_index ON ` + b.db.Table("_outbox_") + `(scheduled_at);
`)
	if err != nil {
		panic(err)
	}
}

func (b *Backend) outboxClaimQuery() string {
	return `UPDATE ` + b.db.Table("_outbox_") + `
SET attempts_left = attempts_left - 1,
scheduled_at = CASE WHEN attempts_left>3 then $2 WHEN attempts_left=3 THEN $3 ELSE $4 END::TIMESTAMP
WHERE serial = (
SELECT serial
 FROM ` + b.db.Table("_outbox_") + `
 WHERE attempts_left > 0 AND (scheduled_at IS NULL OR $1 > scheduled_at)
 ORDER BY serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING serial, app_id, type, action, resource_id, payload, timestamp, attempts_left, context;
`
}

func (b *Backend) handleOutbox() {
	logger.Default().Debugln("outbox")
	logger.Default().Debugln("  handle route: /health GET")
	b.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.health(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// Health contains the backend's health status
type Health struct {
	Outbox struct {
		Pending int64 `json:"pending"`
		Failing int64 `json:"failing"`
		Failed  int64 `json:"failed"`
	} `json:"outbox"`
}

// Health returns the backend's health status
func (b *Backend) Health(ctx context.Context) (Health, error) {
	health := Health{}
	err := b.db.QueryRowContext(ctx, `SELECT
COUNT(*) FILTER (WHERE attempts_left = 4),
COUNT(*) FILTER (WHERE attempts_left > 0 AND attempts_left < 4),
COUNT(*) FILTER (WHERE attempts_left = 0)
FROM `+b.db.Table("_outbox_")+`;`).Scan(&health.Outbox.Pending, &health.Outbox.Failing, &health.Outbox.Failed)
	return health, err
}

func (b *Backend) health(w http.ResponseWriter, r *http.Request) {
	health, err := b.Health(r.Context())
	if err != nil {
		writeError(w, r, "4401", err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// queueNotification adds a notification for res to the outbox as part of the
// transaction q. Without a publisher this does nothing.
func (b *Backend) queueNotification(ctx context.Context, q queryer, appID int, typ string, action core.Operation, res *resource) error {
	if b.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(res.output())
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO `+b.db.Table("_outbox_")+`
(app_id, type, action, resource_id, payload, timestamp, attempts_left, context)
VALUES($1,$2,$3,$4,$5,$6,4,$7);`,
		appID, typ, string(action), res.ID, payload, time.Now().UTC(), logger.SerializeLoggerContext(ctx))
	return err
}

// triggerOutbox triggers outbox processing after a commit
func (b *Backend) triggerOutbox() {
	if b.publisher == nil {
		return
	}
	b.hasJobsToProcessLock.Lock()
	b.hasJobsToProcess = true
	b.hasJobsToProcessLock.Unlock()
	if b.processJobsAsyncRuns {
		if len(b.processJobsAsyncTrigger) == 0 {
			b.processJobsAsyncTrigger <- struct{}{}
		}
	}
}

// HasOutboxToProcess returns true, if notifications were queued since the last call.
// It then resets the process flag.
func (b *Backend) HasOutboxToProcess() bool {
	b.hasJobsToProcessLock.Lock()
	defer b.hasJobsToProcessLock.Unlock()
	result := b.hasJobsToProcess
	b.hasJobsToProcess = false
	return result
}

func (b *Backend) outboxWorker(entries <-chan txOutboxEntry, ready chan<- bool) {
	for entry := range entries {
		m, ctx := entry.message()
		rlog := logger.FromContext(ctx)

		if err := entry.tx.Commit(); err != nil {
			rlog.Errorf("error committing outbox claim #%d: %s", entry.Serial, err.Error())
		}

		// publish in a panic/recover envelope
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("recovered from panic: %s", r)
					debug.PrintStack()
				}
			}()
			timeout := time.AfterFunc(20*time.Second, func() {
				logger.Default().Errorf("publishing %s is taking a long time...", m.Key())
			})
			defer timeout.Stop()
			return b.publisher.Publish(ctx, m)
		}()

		if err != nil {
			rlog.WithError(err).Error("error publishing " + m.Key() + " #" + strconv.Itoa(entry.Serial))
		} else {
			rlog.Debug("published " + m.Key() + " #" + strconv.Itoa(entry.Serial))
			_, err = b.db.Exec(`DELETE FROM `+b.db.Table("_outbox_")+` WHERE serial = $1;`, entry.Serial)
			if err != nil {
				rlog.WithError(err).Error("could not delete published notification #" + strconv.Itoa(entry.Serial))
			}
		}
		ready <- true
	}
}

// ProcessOutboxAsync starts the outbox relay. It returns immediately. This
// function must only be called once.
//
// If heartbeat is larger than 0, the function also starts a heartbeat timer which
// retries failed notifications and purges expired resources.
func (b *Backend) ProcessOutboxAsync(heartbeat time.Duration) {
	if b.processJobsAsyncRuns {
		panic("already processing the outbox")
	}
	b.processJobsAsyncRuns = true
	b.processJobsAsyncTrigger = make(chan struct{}, 10)

	if heartbeat > 0 {
		go func() {
			for {
				time.Sleep(heartbeat)
				if _, err := b.PurgeExpired(context.Background()); err != nil {
					logger.Default().WithError(err).Error("purging expired resources failed")
				}
				if len(b.processJobsAsyncTrigger) == 0 {
					b.processJobsAsyncTrigger <- struct{}{}
				}
			}
		}()
	}

	go func() {
		b.ProcessOutboxSync(5 * time.Minute)
		for {
			<-b.processJobsAsyncTrigger
			b.ProcessOutboxSync(5 * time.Minute)
		}
	}()
}

// ProcessOutboxSync publishes pending notifications up to the specified maximum duration and
// returns after the last claimed notification was handled. It returns true if it has maxed out
// and there are more notifications to publish. Pass 0 to publish everything pending.
func (b *Backend) ProcessOutboxSync(max time.Duration) bool {
	if b.publisher == nil {
		return false
	}
	rlog := logger.Default()
	startTime := time.Now()
	claimQuery := b.outboxClaimQuery()

	claim := func() (entry txOutboxEntry, err error) {
		entry.tx, err = b.db.BeginTx(context.Background(), nil)
		if err != nil {
			rlog.WithError(err).Error("failed to begin transaction")
			return
		}
		now := time.Now().UTC()
		err = entry.tx.QueryRow(claimQuery,
			now,
			now.Add(time.Minute),
			now.Add(5*time.Minute),
			now.Add(15*time.Minute),
		).Scan(
			&entry.Serial,
			&entry.AppID,
			&entry.Type,
			&entry.Action,
			&entry.ResourceID,
			&entry.Payload,
			&entry.Timestamp,
			&entry.AttemptsLeft,
			&entry.ContextData,
		)
		if err != nil {
			if err != sql.ErrNoRows {
				rlog.Errorln("failed to claim notification:", err.Error())
			}
			entry.tx.Rollback()
			entry.tx = nil
		}
		return
	}

	entries := make(chan txOutboxEntry, b.outboxConcurrency)
	ready := make(chan bool, b.outboxConcurrency)
	defer close(entries)
	for i := 0; i < b.outboxConcurrency; i++ {
		go b.outboxWorker(entries, ready)
	}

	var maxedOut bool
	var count, readyCount int
	for i := 0; i < b.outboxConcurrency; i++ {
		entry, err := claim()
		if err != nil {
			break
		}
		count++
		entries <- entry
	}

	for readyCount < count {
		<-ready
		readyCount++
		if maxedOut = max > 0 && time.Since(startTime) >= max; !maxedOut {
			entry, err := claim()
			if err != nil {
				continue
			}
			count++
			entries <- entry
		}
	}

	if count > 0 {
		maxedOutString := ""
		if maxedOut {
			maxedOutString = " (maxed out)"
		}
		rlog.Debugf("process outbox: %d done%s", count, maxedOutString)
	}
	return maxedOut
}
