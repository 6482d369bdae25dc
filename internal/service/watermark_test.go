package service

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDrawTextFilter(t *testing.T) {
	tests := []struct {
		name     string
		opts     WatermarkOptions
		contains []string
	}{
		{
			name:     "defaults bottom right",
			opts:     WatermarkOptions{Text: "pawtalk"},
			contains: []string{"text='pawtalk'", "fontsize=28", "fontcolor=white@0.60", "x=w-tw-20", "y=h-th-20"},
		},
		{
			name:     "top left",
			opts:     WatermarkOptions{Text: "x", FontSize: 40, Opacity: 0.3, Position: "top-left"},
			contains: []string{"fontsize=40", "fontcolor=white@0.30", "x=20:y=20"},
		},
		{
			name:     "center",
			opts:     WatermarkOptions{Text: "x", Position: "center"},
			contains: []string{"x=(w-tw)/2", "y=(h-th)/2"},
		},
		{
			name:     "escapes specials",
			opts:     WatermarkOptions{Text: "paw:talk 100%"},
			contains: []string{`text='paw\:talk 100\%'`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DrawTextFilter(tt.opts)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("DrawTextFilter() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestFFmpegWatermarker_Unavailable(t *testing.T) {
	w := NewFFmpegWatermarker("/nonexistent/ffmpeg-binary", discardLogger())
	if w.Available(context.Background()) {
		t.Error("missing binary should be unavailable")
	}
	// Cached
	if w.Available(context.Background()) {
		t.Error("availability should stay false")
	}
}

func TestFFmpegWatermarker_EmptyText(t *testing.T) {
	w := NewFFmpegWatermarker("", discardLogger())
	_, err := w.Apply(context.Background(), "in.mp4", WatermarkOptions{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}
