package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nightlight-labs/lullaby/internal/pipeline"
	"github.com/nightlight-labs/lullaby/internal/provider"
)

var (
	speakVoice   string
	speakRate    float64
	speakOutput  string
	speakRefresh bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT|-]",
		Short: "Narrate text",
		Long:  paragraph(fmt.Sprintf("\n%s text into audio. Use - to read the text from stdin.", keyword("Narrate"))),
		Example: paragraph("lullaby speak \"Goodnight, moon.\" -o moon.mp3\n" +
			"lullaby story --theme stars | lullaby speak - > stars.mp3"),
		Args: cobra.ExactArgs(1),
		RunE: runSpeak,
	}
)

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice name (default from config)")
	speakCmd.Flags().Float64Var(&speakRate, "rate", 0, "speaking rate, 1.0 is normal (default from config)")
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "", "audio file to write")
	speakCmd.Flags().BoolVar(&speakRefresh, "refresh", false, "ignore the cached clip and synthesize again")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	if speakOutput == "" && term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("refusing to write audio to a terminal: use --output or redirect stdout")
	}
	text, err := readInput(args[0])
	if err != nil {
		return err
	}

	a, err := probedApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	voice := speakVoice
	if voice == "" {
		voice = a.Config.Speech.Voice
	}
	rate := speakRate
	if rate == 0 {
		rate = a.Config.Prefetch.Rate
	}

	req := pipeline.SpeechRequest(provider.SpeechInput{Text: text, Voice: voice, Rate: rate})
	req.ForceRefresh = speakRefresh

	o := a.Fetch(cmd.Context(), req)
	if err := outcomeError(o); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, describe(o))
	return writeOutput(speakOutput, o.Content)
}
