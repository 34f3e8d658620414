package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lovelore/config"
	"lovelore/narrative"
	"lovelore/story"
)

func newPlayCmd() *cobra.Command {
	var (
		storyID string
		chapter int
		userID  string
		persist bool
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a story in the terminal",
		Long: `Play a story chapter by chapter. Type your action and press enter.

  /next   confirm the chapter and move on
  /quit   leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := zap.NewNop()
			if verbose {
				if log, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			a, err := buildApp(cfg, log, !persist)
			if err != nil {
				return err
			}
			if storyID == "" {
				list := a.catalog.List()
				if len(list) == 0 {
					return fmt.Errorf("no stories in %s", cfg.StoriesPath)
				}
				storyID = list[0].ID
			}
			st, err := a.catalog.Story(storyID)
			if err != nil {
				return fmt.Errorf("story %q: %w", storyID, err)
			}
			p := &player{
				engine: a.engine,
				story:  st,
				user:   userID,
				index:  chapter,
				in:     cmd.InOrStdin(),
				out:    cmd.OutOrStdout(),
			}
			return p.run(cmd)
		},
	}
	cmd.Flags().StringVar(&storyID, "story", "", "story id (default: first story)")
	cmd.Flags().IntVar(&chapter, "chapter", 0, "chapter index to start at")
	cmd.Flags().StringVar(&userID, "user", "local", "user id the turns are stored under")
	cmd.Flags().BoolVar(&persist, "persist", false, "store turns in Supabase when configured")
	return cmd
}

type player struct {
	engine *narrative.Engine
	story  story.Story
	user   string
	index  int
	in     io.Reader
	out    io.Writer
}

func (p *player) run(cmd *cobra.Command) error {
	ch, err := p.story.ChapterContext(p.index)
	if err != nil {
		return fmt.Errorf("chapter %d: %w", p.index, err)
	}
	p.banner(ch)

	sc := bufio.NewScanner(p.in)
	for {
		fmt.Fprint(p.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/next":
			if _, err := p.engine.CompleteChapter(cmd.Context(), p.story.ID, p.user, p.index); err != nil {
				return err
			}
			p.index++
			if ch, err = p.story.ChapterContext(p.index); err != nil {
				fmt.Fprintln(p.out, "The end.")
				return nil
			}
			p.banner(ch)
			continue
		}

		res, err := p.engine.Turn(cmd.Context(), narrative.TurnRequest{
			RequestID:    uuid.New().String(),
			UserID:       p.user,
			StoryID:      p.story.ID,
			ChapterIndex: p.index,
			Chapter:      ch,
			Prompt:       line,
		}, func(delta string) {
			fmt.Fprint(p.out, delta)
		})
		fmt.Fprintln(p.out)
		if err != nil {
			fmt.Fprintf(p.out, "[%s] %v\n", res.Status, err)
			continue
		}
		if res.ObjectiveCompleted {
			fmt.Fprintln(p.out, "[objective reached: type /next to continue]")
		}
	}
}

func (p *player) banner(ch story.ChapterContext) {
	fmt.Fprintf(p.out, "\n== %s: %s ==\n", ch.StoryName, ch.ChapterName)
	if ch.ChapterContext != "" {
		fmt.Fprintln(p.out, ch.ChapterContext)
	}
	fmt.Fprintln(p.out)
}
