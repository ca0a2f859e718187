package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNonPositiveFPS(t *testing.T) {
	cfg := &Config{FPS: 0, FrameWidth: 640, FrameHeight: 480}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMismatchedStreamNames(t *testing.T) {
	cfg := &Config{
		FPS: 10, FrameWidth: 640, FrameHeight: 480,
		StreamURLs:  []string{"rtsp://a", "rtsp://b"},
		StreamNames: []string{"only-one"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidatePassesWithDefaults(t *testing.T) {
	cfg := &Config{FPS: 10, FrameWidth: 640, FrameHeight: 480}
	require.NoError(t, cfg.Validate())
}

func TestStreamsZipsURLsAndNames(t *testing.T) {
	cfg := &Config{
		StreamURLs:  []string{"rtsp://a", "rtsp://b", "rtsp://c"},
		StreamNames: []string{"Front Door", "", "Garage"},
	}
	streams := cfg.Streams()
	require.Len(t, streams, 3)
	assert.Equal(t, StreamDef{URL: "rtsp://a", Name: "Front Door"}, streams[0])
	assert.Equal(t, StreamDef{URL: "rtsp://b", Name: "cam1"}, streams[1], "blank name falls back to cam<index>")
	assert.Equal(t, StreamDef{URL: "rtsp://c", Name: "Garage"}, streams[2])
}

func TestDetectorConfigBuildsClassSet(t *testing.T) {
	cfg := &Config{ConfidenceThreshold: 0.4, FilterClasses: []string{"person", "car", ""}, MinArea: 10, MaxArea: 1000}
	dc := cfg.DetectorConfig()
	assert.Equal(t, 0.4, dc.ConfidenceThreshold)
	assert.Equal(t, 10.0, dc.MinArea)
	assert.Equal(t, 1000.0, dc.MaxArea)
	assert.Len(t, dc.FilterClasses, 2)
	_, hasPerson := dc.FilterClasses["person"]
	_, hasCar := dc.FilterClasses["car"]
	assert.True(t, hasPerson)
	assert.True(t, hasCar)
}

func TestStreamParamsBuildsRecordObjectsSet(t *testing.T) {
	cfg := &Config{
		FrameWidth: 1280, FrameHeight: 720, FPS: 15,
		PreBufferSeconds: 3, PostBufferSeconds: 8, MinConfidence: 0.6,
		MinGapBetweenRecordings: 10 * time.Second,
		RecordObjects:           []string{"dog", ""},
		ReconnectInterval:       2 * time.Second,
		ModelPath:               "yolov8n",
	}
	params := cfg.StreamParams()
	assert.Equal(t, 1280, params.Width)
	assert.Equal(t, 720, params.Height)
	assert.Equal(t, 15, params.FPS)
	assert.Equal(t, "yolov8n", params.ModelPath)
	assert.Len(t, params.RecordObjects, 1)
	_, hasDog := params.RecordObjects["dog"]
	assert.True(t, hasDog)
}
