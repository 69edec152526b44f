package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nostr-subs/internal/nostr"
	"nostr-subs/internal/types"
	"nostr-subs/internal/util"
)

func newEventCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "event <id|note>",
		Short: "Look up one event by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveEventID(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			evt := a.fetch.Event(cmd.Context(), a.cfg.Relays, id)
			if evt == nil {
				return fmt.Errorf("event %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), evt)
		},
	}
}

func newProfileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <pubkey|npub>...",
		Short: "Look up the newest profile of each pubkey",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pubkeys []string
			for _, arg := range args {
				pk, err := nostr.ResolvePubkey(arg)
				if err != nil {
					return fmt.Errorf("pubkey %q: %w", arg, err)
				}
				pubkeys = append(pubkeys, pk)
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			profiles := a.fetch.Profiles(cmd.Context(), a.cfg.Relays, pubkeys)
			for _, pk := range util.UniqueStrings(pubkeys) {
				if p, ok := profiles[pk]; ok {
					if err := printJSON(cmd.OutOrStdout(), p); err != nil {
						return err
					}
					continue
				}
				a.log.Warn("profile not found", "pubkey", pk)
			}
			return nil
		},
	}
}

func newThreadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "thread <root-id|note>",
		Short: "Print a thread root followed by its replies, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveEventID(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			th := a.fetch.Thread(cmd.Context(), a.cfg.Relays, id)
			if th == nil {
				return fmt.Errorf("thread root %s not found", args[0])
			}
			return printEvents(cmd, append([]types.Event{th.Root}, th.Replies...))
		},
	}
}

func newFeedCmd(flags *globalFlags) *cobra.Command {
	var (
		ff        filterFlags
		mediaOnly bool
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print one page of notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authors, err := ff.authors()
			if err != nil {
				return err
			}
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.close()

			q := types.FeedQuery{
				Authors:   authors,
				Hashtag:   ff.Hashtag,
				MediaOnly: mediaOnly,
				Limit:     ff.Limit,
			}
			if ff.Since > 0 {
				q.Since = &ff.Since
			}
			return printEvents(cmd, a.fetch.Feed(cmd.Context(), a.cfg.Relays, q))
		},
	}
	ff.register(cmd)
	cmd.Flags().BoolVar(&mediaOnly, "media-only", false, "only notes with images or video")
	return cmd
}

// resolveEventID accepts hex or note1. Anything else is passed through so
// lookups by non-standard ids still work against permissive relays.
func resolveEventID(s string) (string, error) {
	id, err := nostr.ResolveEventID(s)
	if errors.Is(err, nostr.ErrInvalidIdentifier) && !strings.HasPrefix(s, "note1") {
		return s, nil
	}
	return id, err
}

func printEvents(cmd *cobra.Command, events []types.Event) error {
	for _, evt := range events {
		if err := printJSON(cmd.OutOrStdout(), evt); err != nil {
			return err
		}
	}
	return nil
}
