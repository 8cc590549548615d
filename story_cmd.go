package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nightlight-labs/lullaby/internal/pipeline"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var (
	storyTheme     string
	storyCharacter string
	storyLength    string
	storyAge       int
	storyRefresh   bool
	storyOutput    string
	storyNarrate   string
	storyVoice     string

	storyCmd = &cobra.Command{
		Use:   "story",
		Short: "Tell a bedtime story",
		Long: paragraph(fmt.Sprintf("\n%s a story for a theme and a main character. "+
			"Stories are cached, so asking again (or asking offline) returns the same one.", keyword("Generate"))),
		Example: paragraph("lullaby story --theme friendship --character \"a sleepy dragon\"\n" +
			"lullaby story --theme the-moon --narrate moon.mp3"),
		Args: cobra.NoArgs,
		RunE: runStory,
	}
)

func init() {
	storyCmd.Flags().StringVarP(&storyTheme, "theme", "t", "", "story theme")
	storyCmd.Flags().StringVarP(&storyCharacter, "character", "c", "", "main character")
	storyCmd.Flags().StringVarP(&storyLength, "length", "l", "", "short, medium or long (default from config)")
	storyCmd.Flags().IntVarP(&storyAge, "age", "a", 0, "child's age (default from config)")
	storyCmd.Flags().BoolVar(&storyRefresh, "refresh", false, "ignore the cached story and ask again")
	storyCmd.Flags().StringVarP(&storyOutput, "output", "o", "", "write the story to a file")
	storyCmd.Flags().StringVar(&storyNarrate, "narrate", "", "also narrate the story into this file")
	storyCmd.Flags().StringVar(&storyVoice, "voice", "", "narration voice (default from config)")
}

func runStory(cmd *cobra.Command, _ []string) error {
	a, err := probedApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	lengthName := storyLength
	if lengthName == "" {
		lengthName = a.Config.Prefetch.Length
	}
	length, err := provider.ParseLength(lengthName)
	if err != nil {
		return err
	}
	age := storyAge
	if !cmd.Flags().Changed("age") {
		age = a.Config.Prefetch.ChildAge
	}

	req := pipeline.StoryRequest(provider.StoryPrompt{
		Theme:     storyTheme,
		Character: storyCharacter,
		Length:    length,
		ChildAge:  age,
	})
	req.ForceRefresh = storyRefresh

	o := a.Fetch(cmd.Context(), req)
	if err := outcomeError(o); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, describe(o))

	if err := writeOutput(storyOutput, o.Content); err != nil {
		return err
	}
	if storyOutput == "" && !bytes.HasSuffix(o.Content, []byte("\n")) {
		fmt.Println()
	}

	if storyNarrate == "" {
		return nil
	}
	voice := storyVoice
	if voice == "" {
		voice = a.Config.Speech.Voice
	}
	narration := a.Fetch(cmd.Context(), pipeline.SpeechRequest(provider.SpeechInput{
		Text:  string(o.Content),
		Voice: voice,
		Rate:  a.Config.Prefetch.Rate,
	}))
	if err := outcomeError(narration); err != nil {
		return fmt.Errorf("narration: %w", err)
	}
	fmt.Fprintln(os.Stderr, "narration", describe(narration))
	return writeOutput(storyNarrate, narration.Content)
}
