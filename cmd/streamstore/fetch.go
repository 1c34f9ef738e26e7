package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/streamstore/core/es"
)

type (
	streamView struct {
		ID        string      `json:"id" yaml:"id"`
		Type      string      `json:"type" yaml:"type"`
		Version   uint64      `json:"version" yaml:"version"`
		Deleted   bool        `json:"deleted" yaml:"deleted"`
		CreatedBy string      `json:"created_by,omitempty" yaml:"created_by,omitempty"`
		CreatedOn time.Time   `json:"created_on" yaml:"created_on"`
		UpdatedBy string      `json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
		UpdatedOn time.Time   `json:"updated_on" yaml:"updated_on"`
		Events    []eventView `json:"events" yaml:"events"`
	}
	eventView struct {
		ID         string     `json:"id" yaml:"id"`
		Version    uint64     `json:"version" yaml:"version"`
		Type       string     `json:"type" yaml:"type"`
		ActorID    string     `json:"actor_id,omitempty" yaml:"actor_id,omitempty"`
		OccurredOn time.Time  `json:"occurred_on" yaml:"occurred_on"`
		IsDeleted  *bool      `json:"is_deleted,omitempty" yaml:"is_deleted,omitempty"`
		Payload    es.Payload `json:"payload" yaml:"payload"`
	}
)

func newStreamView(s *es.Stream) streamView {
	v := streamView{
		ID:        s.ID.String(),
		Type:      s.Type,
		Version:   uint64(s.Version),
		Deleted:   s.IsDeleted,
		CreatedBy: s.CreatedBy.String(),
		CreatedOn: s.CreatedOn,
		UpdatedBy: s.UpdatedBy.String(),
		UpdatedOn: s.UpdatedOn,
		Events:    make([]eventView, len(s.Events)),
	}
	for i, e := range s.Events {
		v.Events[i] = eventView{
			ID:         e.ID.String(),
			Version:    uint64(e.Version),
			Type:       e.Type(),
			ActorID:    e.ActorID.String(),
			OccurredOn: e.OccurredOn,
			IsDeleted:  e.IsDeleted,
			Payload:    e.Payload,
		}
	}
	return v
}

func (v streamView) writeText(w io.Writer) error {
	header := fmt.Sprintf("%s %s %s",
		styles.Title.Render("stream "+v.ID),
		styles.Subtle.Render("("+v.Type+")"),
		styles.Bold.Render(fmt.Sprintf("v%d", v.Version)),
	)
	if v.Deleted {
		header += " " + styles.Error.Render("deleted")
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, e := range v.Events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		actor := e.ActorID
		if actor == "" {
			actor = "-"
		}
		_, err = fmt.Fprintf(w, "  %4d  %-22s %s  %-12s %s\n",
			e.Version,
			e.Type,
			styles.Subtle.Render(e.OccurredOn.Format(time.RFC3339)),
			actor,
			payload,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) fetchCmd() *cobra.Command {
	var from, to uint64
	var deleted bool
	cmd := &cobra.Command{
		Use:   "fetch <stream-id>",
		Short: "Read the events of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := es.ParseStreamID(args[0])
			if err != nil {
				return err
			}
			opts := []es.FetchOption{es.FromVersion(es.Version(from)), es.ToVersion(es.Version(to))}
			if cmd.Flags().Changed("deleted") {
				opts = append(opts, es.FetchDeleted(deleted))
			}

			stream, err := a.env.Store().Fetch(cmd.Context(), id, opts...)
			if err != nil {
				return err
			}
			if stream == nil {
				return fmt.Errorf("stream %s not found", id)
			}
			view := newStreamView(stream)
			return a.print(view, view.writeText)
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first version to read")
	cmd.Flags().Uint64Var(&to, "to", 0, "last version to read (0 reads to the end)")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "only return the stream when its deletion flag matches")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var streamType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the streams of a type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := a.env.Store().StreamIDs(cmd.Context(), streamType)
			if err != nil {
				return err
			}
			out := make([]string, len(ids))
			for i, id := range ids {
				out[i] = id.String()
			}
			return a.print(out, func(w io.Writer) error {
				for _, id := range out {
					if _, err := fmt.Fprintln(w, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&streamType, "type", "user", "stream type")
	return cmd
}
