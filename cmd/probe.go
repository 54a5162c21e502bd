package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"framepipe/ffmpeg"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the hardware acceleration backends in priority order",
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := ffmpeg.CheckBinary(cfg.FFBin); err != nil {
		return err
	}

	builder, err := ffmpeg.NewCommandBuilder(cfg.DecoderLogLevel, cfg.DecoderInputArgs)
	if err != nil {
		return err
	}
	priority, err := ffmpeg.ParsePriority(cfg.HWAccelPriority)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	if accels, err := ffmpeg.ListHWAccels(ctx, cfg.FFBin); err == nil {
		fmt.Fprintf(out, "ffmpeg hwaccels: %v\n\n", accels)
	}

	prober := ffmpeg.NewExecProber(cfg.FFBin, builder, cfg.ProbeTimeout)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tRESULT")
	selected := ffmpeg.BackendSoftware
	found := false
	for _, b := range priority {
		if b.IsSoftware() {
			fmt.Fprintf(tw, "%s\tok (software)\n", b)
			found = true
			continue
		}
		if err := prober.Probe(ctx, b); err != nil {
			fmt.Fprintf(tw, "%s\tfailed: %v\n", b, err)
			continue
		}
		fmt.Fprintf(tw, "%s\tok\n", b)
		if !found {
			selected, found = b, true
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nselected backend: %s\n", selected)
	return nil
}
