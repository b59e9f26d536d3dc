/*
Package cli provides command-line helpers for the tokengate command.

Output Formatting:

Results are rendered as text, JSON or CSV. Values implementing Table are
printed as aligned columns in text mode and as rows in CSV mode:

	format, err := cli.ParseOutputFormat(flagOutput)
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, summaries); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(prompts)))
	// for each finished call
	progress.Done(usage.Total())
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps command errors to process exit codes: configuration errors
exit 2, capacity timeouts 3, exhausted retries 4 and interrupts 130.
*/
package cli
