// Package etcdreg announces running mrpc servers in etcd.
//
// Each server holds a lease-backed key under /mrpc/servers/ whose value is
// its advertised address. The key disappears when the server stops renewing
// the lease, so listings only ever show live servers.
package etcdreg

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const prefix = "/mrpc/servers/"

const (
	leaseTTL      = 60 // seconds
	keepAliveTick = 30 * time.Second
)

// Registration is one announced server. Close withdraws it.
type Registration struct {
	log  *slog.Logger
	ec   *clientv3.Client
	id   string
	addr string

	lease clientv3.LeaseID

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	closing bool
}

// Announce publishes addr under the server id and keeps the entry alive
// until Close. If another live server already owns the id, Announce keeps
// watching and takes the entry over when it goes away.
func Announce(ctx context.Context, log *slog.Logger, ec *clientv3.Client, id, addr string) (*Registration, error) {
	if log == nil {
		log = slog.Default()
	}

	lr, err := ec.Grant(ctx, leaseTTL)
	if err != nil {
		return nil, errors.Wrap(err, "granting lease")
	}

	r := &Registration{
		log:   log.With("module", "etcdreg", "server", id),
		ec:    ec,
		id:    id,
		addr:  addr,
		lease: lr.ID,
		done:  make(chan struct{}),
	}

	owned := r.acquire(ctx)

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	go r.maintain(wctx, owned)

	return r, nil
}

func (r *Registration) key() string {
	return prefix + r.id
}

// acquire installs the key if nothing holds it. Returns whether this
// registration now owns the entry.
func (r *Registration) acquire(ctx context.Context) bool {
	txn := r.ec.Txn(ctx).If(
		clientv3.Compare(clientv3.CreateRevision(r.key()), "=", 0),
	).Then(
		clientv3.OpPut(r.key(), r.addr, clientv3.WithLease(r.lease)),
	)

	tr, err := txn.Commit()
	if err != nil {
		r.log.Error("failed to commit registration", "err", err)
		return false
	}

	if !tr.Succeeded {
		gr, err := r.ec.Get(ctx, r.key())
		if err != nil || len(gr.Kvs) == 0 {
			return false
		}

		ep := string(gr.Kvs[0].Value)
		if ep == r.addr {
			r.log.Info("entry already owned by self")
			return true
		}

		r.log.Warn("server id already registered", "ep", ep)
		return false
	}

	r.log.Info("server registered", "ep", r.addr)
	return true
}

func (r *Registration) maintain(ctx context.Context, owned bool) {
	defer close(r.done)
	defer r.ec.Revoke(context.WithoutCancel(ctx), r.lease)

	wc := r.ec.Watch(ctx, r.key())

	ticker := time.NewTicker(keepAliveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			_, err := r.ec.KeepAliveOnce(ctx, r.lease)
			if err != nil {
				r.log.Error("failed to keep lease alive", "err", err)
				return
			}

		case wr := <-wc:
			if wr.Canceled {
				if ctx.Err() != nil {
					return
				}

				r.log.Error("watch canceled", "err", wr.Err())
				wc = r.ec.Watch(ctx, r.key())
			}

			for _, ev := range wr.Events {
				if ev.Type == clientv3.EventTypeDelete {
					r.log.Info("registration entry deleted")
					owned = false
				}
			}

			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()

			if closing {
				return
			}

			if !owned {
				owned = r.acquire(ctx)
			}
		}
	}
}

// Close withdraws the registration. The entry is only deleted if this
// registration still owns it.
func (r *Registration) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	r.cancel()
	<-r.done

	txn := r.ec.Txn(ctx).If(
		clientv3.Compare(clientv3.Value(r.key()), "=", r.addr),
	).Then(
		clientv3.OpDelete(r.key()),
	)

	_, err := txn.Commit()
	return errors.Wrap(err, "withdrawing registration")
}

// Servers lists the currently announced servers, id to address.
func Servers(ctx context.Context, ec *clientv3.Client) (map[string]string, error) {
	resp, err := ec.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "listing servers")
	}

	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), prefix)
		out[id] = string(kv.Value)
	}

	return out, nil
}
