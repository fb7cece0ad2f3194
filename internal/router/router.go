// Package router assigns work stream entries to account-bound supervisor
// processes. Assignment is a stable hash of a work-type-specific routing
// string, so the same subject always lands on the same account.
package router

import (
	"context"
	"crypto/md5"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"talon/internal/item"
	"talon/internal/metrics"
	"talon/internal/stream"
)

// Router consumes the inbound work stream and forwards to per-process
// streams. The account list and account-to-process mapping are fixed at
// construction.
type Router struct {
	in          *stream.Stream
	dests       map[string]*stream.Stream
	accountKeys []string
	accountProc map[string]string

	readCount int64
	readBlock time.Duration
}

// New builds a router. accountKeys orders the hash space; accountProc maps
// every account key to the process name owning it; dests maps process names
// to their streams.
func New(in *stream.Stream, dests map[string]*stream.Stream, accountKeys []string, accountProc map[string]string) (*Router, error) {
	if len(accountKeys) == 0 {
		return nil, fmt.Errorf("no account keys configured")
	}
	for _, key := range accountKeys {
		proc, ok := accountProc[key]
		if !ok {
			return nil, fmt.Errorf("account %s not assigned to a process", key)
		}
		if _, ok := dests[proc]; !ok {
			return nil, fmt.Errorf("process %s for account %s has no destination stream", proc, key)
		}
	}
	return &Router{
		in:          in,
		dests:       dests,
		accountKeys: accountKeys,
		accountProc: accountProc,
		readCount:   100,
		readBlock:   5 * time.Second,
	}, nil
}

// RoutingString is the stable per-subject key work gets hashed on:
// the conversation id for conversation work, otherwise object id, user id
// and screen name concatenated.
func RoutingString(fields map[string]any) string {
	if asString(fields["work_type"]) == string(item.WorkConversationTweets) {
		return asString(fields["conversation_id"])
	}
	return asString(fields["obj_id"]) + asString(fields["user_id"]) + asString(fields["screen_name"])
}

// AccountFor maps a routing string onto one of the configured account keys.
func (r *Router) AccountFor(routing string) string {
	sum := md5.Sum([]byte(routing))
	n := new(big.Int).SetBytes(sum[:])
	idx := n.Mod(n, big.NewInt(int64(len(r.accountKeys)))).Int64()
	return r.accountKeys[idx]
}

// Run consumes the inbound stream until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		entries, err := r.in.Read(ctx, r.readCount, r.readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("router read failed")
			time.Sleep(time.Second)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if err := r.dispatch(ctx, entries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("router dispatch failed")
		}
	}
}

func (r *Router) dispatch(ctx context.Context, entries []stream.Entry) error {
	batches := make(map[string][]map[string]any, len(r.dests))
	acked := make([]string, 0, len(entries))

	for _, e := range entries {
		if isControl(e.Fields) {
			// control signals go everywhere
			for proc := range r.dests {
				batches[proc] = append(batches[proc], e.Fields)
			}
			acked = append(acked, e.ID)
			continue
		}
		routing := RoutingString(e.Fields)
		if routing == "" {
			log.Warn().Str("entry", e.ID).Msg("dropping entry with empty routing string")
			metrics.ItemsDropped.Inc()
			acked = append(acked, e.ID)
			continue
		}
		account := r.AccountFor(routing)
		e.Fields["account_key"] = account
		proc := r.accountProc[account]
		batches[proc] = append(batches[proc], e.Fields)
		acked = append(acked, e.ID)
	}

	for proc, batch := range batches {
		if err := r.dests[proc].AddBatch(ctx, batch); err != nil {
			return fmt.Errorf("forward to %s: %w", proc, err)
		}
		metrics.ItemsRouted.Add(float64(len(batch)))
	}
	return r.in.Ack(ctx, acked...)
}

func isControl(fields map[string]any) bool {
	return asBool(fields["flush_group"]) || asBool(fields["exit"])
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return fmt.Sprintf("%d", s)
	case uint64:
		return fmt.Sprintf("%d", s)
	case int:
		return fmt.Sprintf("%d", s)
	case float64:
		return fmt.Sprintf("%.0f", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
