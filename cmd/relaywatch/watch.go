package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nostr-subs/internal/nostr"
	"nostr-subs/internal/subscription"
	"nostr-subs/internal/tracker"
	"nostr-subs/internal/types"
)

const consumerID = "relaywatch"

type filterFlags struct {
	Authors []string
	Kinds   []int
	Hashtag string
	Since   int64
	Limit   int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.Authors, "author", nil, "author pubkey (hex), repeatable")
	cmd.Flags().StringVar(&f.Hashtag, "hashtag", "", "only events tagged with this hashtag")
	cmd.Flags().Int64Var(&f.Since, "since", 0, "only events created after this unix timestamp")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of events")
}

// authors resolves --author values given as hex or npub.
func (f *filterFlags) authors() ([]string, error) {
	var out []string
	for _, a := range f.Authors {
		pk, err := nostr.ResolvePubkey(a)
		if err != nil {
			return nil, fmt.Errorf("author %q: %w", a, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

func (f *filterFlags) filter() (types.Filter, error) {
	authors, err := f.authors()
	if err != nil {
		return types.Filter{}, err
	}
	filter := types.Filter{Authors: authors, Kinds: f.Kinds, Limit: f.Limit}
	if tag := types.NormalizeHashtag(f.Hashtag); tag != "" {
		filter.TTags = []string{tag}
	}
	if f.Since > 0 {
		since := f.Since
		filter.Since = &since
	}
	return filter, nil
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var (
		ff  filterFlags
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream matching events as JSON lines",
		Long:  "Subscribe on every relay and print each matching event once, until interrupted or --ttl elapses.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if ttl > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, ttl)
				defer cancel()
			}

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			var writeErr error
			handler := func(evt types.Event) {
				mu.Lock()
				defer mu.Unlock()
				if writeErr == nil {
					writeErr = printJSON(out, evt)
				}
			}

			id := a.subs.Subscribe(a.cfg.Relays, []types.Filter{filter}, handler, subscription.Options{
				TTL:        subscription.NoExpiry,
				ConsumerID: consumerID,
				Category:   tracker.CategoryFeed,
				Priority:   tracker.PriorityHighest,
				Dedupe:     true,
			})
			if id == "" {
				return fmt.Errorf("subscription rejected")
			}
			defer a.subs.Unsubscribe(id)

			<-ctx.Done()
			mu.Lock()
			defer mu.Unlock()
			return writeErr
		},
	}
	ff.register(cmd)
	cmd.Flags().IntSliceVarP(&ff.Kinds, "kind", "k", []int{1}, "event kinds")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "stop after this long (default: until interrupted)")
	return cmd
}
