/*
Package cli provides command-line helpers used by the tollgate command.

Exit Codes:

Commands return an *ExitError to choose the process exit code; main calls
ExitCode on the returned error:

	0  gate passed
	1  unwaived blocking violation
	2  required evidence is corrupt or unreadable
	3  the decision could not be appended to the audit trail
	4  invalid configuration or usage

Output Formatting:

Audit queries support text, JSON and CSV output. Results that implement
Table can be written in every format:

	formatter := cli.NewFormatter(cli.FormatCSV)
	if err := formatter.FormatTo(os.Stdout, rows); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown of "tollgate watch" on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
