package ocr

import (
	"context"
	"fmt"

	gvision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
)

// Vision implements Engine using Google Cloud Vision text detection.
// Credentials come from Application Default Credentials.
type Vision struct {
	client *gvision.ImageAnnotatorClient
}

// NewVision creates a Cloud Vision engine
func NewVision(ctx context.Context) (*Vision, error) {
	client, err := gvision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}
	return &Vision{client: client}, nil
}

// Recognize runs TEXT_DETECTION on the image and returns the full text annotation
func (v *Vision) Recognize(ctx context.Context, pngData []byte) (string, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: pngData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision API request failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}
	if resp.Responses[0].Error != nil {
		return "", fmt.Errorf("vision API error: %s", resp.Responses[0].Error.Message)
	}

	return resp.Responses[0].GetFullTextAnnotation().GetText(), nil
}

// Name returns the engine name
func (v *Vision) Name() string {
	return "vision"
}

// Close releases the Vision client
func (v *Vision) Close() error {
	return v.client.Close()
}
