package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ormasoftchile/gert/pkg/ink"
	"github.com/spf13/cobra"
)

// --- ink ---

var inkCmd = &cobra.Command{
	Use:   "ink",
	Short: "Run compiled interactive-narrative stories",
}

var (
	inkPlaySave string
	inkPlayLoad string
)

var inkPlayCmd = &cobra.Command{
	Use:   "play [story.json]",
	Short: "Play a compiled story interactively from the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runInkPlay,
}

func runInkPlay(cmd *cobra.Command, args []string) error {
	story, err := loadInkStory(args[0])
	if err != nil {
		return err
	}

	if inkPlayLoad != "" {
		saveData, err := os.ReadFile(inkPlayLoad)
		if err != nil {
			return fmt.Errorf("read save: %w", err)
		}
		if err := story.LoadState(saveData); err != nil {
			return fmt.Errorf("load save: %w", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		advanceInkStory(story, os.Stdout)

		choices := story.CurrentChoices()
		if len(choices) == 0 {
			break
		}
		for i, c := range choices {
			fmt.Printf("%d: %s\n", i+1, c.Text)
		}
		fmt.Print("?> ")
		if !scanner.Scan() {
			break
		}
		if err := chooseFromInput(story, choices, scanner.Text()); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	if inkPlaySave == "" {
		return nil
	}
	saveData, err := story.SaveState()
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.WriteFile(inkPlaySave, saveData, 0644); err != nil {
		return fmt.Errorf("write save: %w", err)
	}
	fmt.Fprintf(os.Stderr, "saved to %s\n", inkPlaySave)
	return nil
}

// --- ink verify ---

var inkVerifyCmd = &cobra.Command{
	Use:   "verify [story.json]",
	Short: "Validate external-function bindings for a compiled story",
	Args:  cobra.ExactArgs(1),
	RunE:  runInkVerify,
}

func runInkVerify(cmd *cobra.Command, args []string) error {
	story, err := loadInkStory(args[0])
	if err != nil {
		return err
	}
	if err := story.ValidateExternalBindings(); err != nil {
		return fmt.Errorf("unbound external function(s): %w", err)
	}
	fmt.Println("✓ story is well-formed and all external functions are bound")
	return nil
}

// --- ink replay ---

// inkTranscript is a recorded sequence of choice indices (0-based),
// used to deterministically re-play a story without a human at the
// keyboard — e.g. to regression-test a story against a golden
// transcript in CI.
type inkTranscript struct {
	Choices []int `json:"choices"`
}

var inkReplayCmd = &cobra.Command{
	Use:   "replay [story.json] [transcript.json]",
	Short: "Replay a recorded choice transcript against a compiled story",
	Args:  cobra.ExactArgs(2),
	RunE:  runInkReplay,
}

func runInkReplay(cmd *cobra.Command, args []string) error {
	story, err := loadInkStory(args[0])
	if err != nil {
		return err
	}

	transcriptData, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	var transcript inkTranscript
	if err := json.Unmarshal(transcriptData, &transcript); err != nil {
		return fmt.Errorf("parse transcript: %w", err)
	}

	remaining := transcript.Choices
	for {
		advanceInkStory(story, os.Stdout)

		choices := story.CurrentChoices()
		if len(choices) == 0 {
			break
		}
		if len(remaining) == 0 {
			return fmt.Errorf("transcript exhausted with %d choice(s) still pending", len(choices))
		}
		idx := remaining[0]
		remaining = remaining[1:]
		if idx < 0 || idx >= len(choices) {
			return fmt.Errorf("transcript choice index %d out of range (%d available)", idx, len(choices))
		}
		if err := story.ChooseChoiceIndex(idx); err != nil {
			return fmt.Errorf("choose index %d: %w", idx, err)
		}
	}
	if len(remaining) > 0 {
		return fmt.Errorf("story ended with %d unused transcript choice(s)", len(remaining))
	}
	return nil
}

// --- shared helpers ---

func loadInkStory(path string) (*ink.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story: %w", err)
	}
	story, err := ink.LoadStory(data)
	if err != nil {
		return nil, fmt.Errorf("load story: %w", err)
	}
	return story, nil
}

// advanceInkStory steps the story until it reaches a choice point or
// the end, printing errors to stderr and text to out as it goes.
func advanceInkStory(story *ink.Story, out *os.File) {
	for story.CanContinue() {
		text, err := story.Continue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if text != "" {
			fmt.Fprint(out, text)
		}
	}
}

func chooseFromInput(story *ink.Story, choices []*ink.Choice, raw string) error {
	input := strings.TrimSpace(raw)
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 1 || idx > len(choices) {
		return fmt.Errorf("invalid choice %q", input)
	}
	return story.ChooseChoiceIndex(idx - 1)
}

func init() {
	inkPlayCmd.Flags().StringVar(&inkPlaySave, "save", "", "Write a save file to this path when the story ends or input runs out")
	inkPlayCmd.Flags().StringVar(&inkPlayLoad, "load", "", "Resume from a previously saved state file")

	inkCmd.AddCommand(inkPlayCmd)
	inkCmd.AddCommand(inkVerifyCmd)
	inkCmd.AddCommand(inkReplayCmd)
	rootCmd.AddCommand(inkCmd)
}
