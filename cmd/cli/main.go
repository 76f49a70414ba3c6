package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/myrjola/storyweaver/cmd/cli/genres"
	"github.com/myrjola/storyweaver/cmd/cli/play"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/spf13/cobra"
)

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rootCmd.AddGroup(play.Group)
	rootCmd.AddCommand(play.Play)
	rootCmd.AddGroup(genres.Group)
	rootCmd.AddCommand(genres.List)
}

var rootCmd = &cobra.Command{
	Use:  "storyweaver-cli",
	Long: `Command line front end for GenAI Story Weaver, the multi-ending story generator.`,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
