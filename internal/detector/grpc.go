package detector

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"sentineld/internal/frame"
)

// detectRequest/detectResponse are the wire messages exchanged with the
// external YOLO-family inference sidecar over the "json" codec
// registered in codec.go.
type detectRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"jpeg"`
}

type detectResponse struct {
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// GRPCDetector calls an external detection sidecar over gRPC. It
// implements Detector. Grounded on
// marcopennelli-orbo/internal/detection/grpc_detector.go's connection
// and keepalive setup.
type GRPCDetector struct {
	endpoint string
	cfg      Config

	mu      sync.RWMutex
	conn    *grpc.ClientConn
	healthy bool
}

// NewGRPCDetector dials endpoint and returns a ready Detector. Dial
// failures are returned to the caller; cmd/sentineld's loadDetector
// decides whether to fall back to NullDetector (see DESIGN.md).
func NewGRPCDetector(ctx context.Context, endpoint string, cfg Config) (*GRPCDetector, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.DialContext(dialCtx, endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("detector: dial %s: %w", endpoint, err)
	}

	log.Printf("[detector] connected to %s", endpoint)
	return &GRPCDetector{endpoint: endpoint, cfg: cfg, conn: conn, healthy: true}, nil
}

// Infer implements Detector. Per spec §4.3 error semantics, any
// transport or backend failure is logged and the frame is passed
// through unannotated with an empty detection list.
func (g *GRPCDetector) Infer(ctx context.Context, f frame.Frame) (frame.Frame, []frame.Detection) {
	req := &detectRequest{Width: f.Width, Height: f.Height, JPEG: f.Pixels}
	resp := &detectResponse{}

	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := g.conn.Invoke(callCtx, "/sentineld.detector.v1.Detector/Detect", req, resp); err != nil {
		g.setHealthy(false)
		log.Printf("[detector] inference failed for %s: %v", g.endpoint, err)
		return f, nil
	}
	g.setHealthy(true)

	raw := make([]frame.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		raw = append(raw, frame.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       frame.BBox{X1: d.X1, Y1: d.Y1, X2: d.X2, Y2: d.Y2},
		})
	}

	kept := Filter(g.cfg, raw)
	return f, kept
}

func (g *GRPCDetector) setHealthy(v bool) {
	g.mu.Lock()
	g.healthy = v
	g.mu.Unlock()
}

// IsHealthy reports whether the last inference call succeeded.
func (g *GRPCDetector) IsHealthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.healthy
}

// Close releases the gRPC connection.
func (g *GRPCDetector) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}
