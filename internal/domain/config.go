package domain

import "strings"

// ImageConfig tunes the image-generation step.
type ImageConfig struct {
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Quality     string `json:"quality,omitempty"`
}

// VideoConfig tunes the video-generation step.
type VideoConfig struct {
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// CompleteConfig drives the full enhance -> image -> video pipeline.
type CompleteConfig struct {
	Prompt string      `json:"prompt"`
	Image  ImageConfig `json:"image"`
	Video  VideoConfig `json:"video"`
}

// ImageOnlyConfig drives the enhance -> image pipeline.
type ImageOnlyConfig struct {
	Prompt string      `json:"prompt"`
	Image  ImageConfig `json:"image"`
}

// VideoFromImageConfig animates a caller-supplied image.
type VideoFromImageConfig struct {
	SourceImageURL string      `json:"source_image_url"`
	Prompt         string      `json:"prompt,omitempty"`
	Video          VideoConfig `json:"video"`
}

// JobConfig is a tagged union: exactly one variant is set, matching the
// job's workflow type. Keeping the variants typed makes illegal workflow
// configurations unrepresentable at the storage boundary.
type JobConfig struct {
	Complete       *CompleteConfig       `json:"complete,omitempty"`
	ImageOnly      *ImageOnlyConfig      `json:"image_only,omitempty"`
	VideoFromImage *VideoFromImageConfig `json:"video_from_image,omitempty"`
}

// Kind returns the workflow type the config encodes, or ErrInvalidConfig
// when zero or more than one variant is populated.
func (c JobConfig) Kind() (WorkflowType, error) {
	var kind WorkflowType
	count := 0
	if c.Complete != nil {
		kind = WorkflowComplete
		count++
	}
	if c.ImageOnly != nil {
		kind = WorkflowImageOnly
		count++
	}
	if c.VideoFromImage != nil {
		kind = WorkflowVideoFromImage
		count++
	}
	if count != 1 {
		return "", ErrInvalidConfig
	}
	return kind, nil
}

// Validate checks the populated variant for the fields its pipeline needs.
func (c JobConfig) Validate() error {
	kind, err := c.Kind()
	if err != nil {
		return err
	}
	switch kind {
	case WorkflowComplete:
		if strings.TrimSpace(c.Complete.Prompt) == "" {
			return ErrInvalidConfig
		}
	case WorkflowImageOnly:
		if strings.TrimSpace(c.ImageOnly.Prompt) == "" {
			return ErrInvalidConfig
		}
	case WorkflowVideoFromImage:
		src := strings.TrimSpace(c.VideoFromImage.SourceImageURL)
		if src == "" {
			return ErrInvalidConfig
		}
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			return ErrInvalidConfig
		}
	}
	return nil
}

// PromptText returns the raw prompt for the populated variant. Empty for
// video-from-image jobs that supply no prompt.
func (c JobConfig) PromptText() string {
	switch {
	case c.Complete != nil:
		return c.Complete.Prompt
	case c.ImageOnly != nil:
		return c.ImageOnly.Prompt
	case c.VideoFromImage != nil:
		return c.VideoFromImage.Prompt
	}
	return ""
}

// ImageSettings returns the image step configuration, zero when absent.
func (c JobConfig) ImageSettings() ImageConfig {
	switch {
	case c.Complete != nil:
		return c.Complete.Image
	case c.ImageOnly != nil:
		return c.ImageOnly.Image
	}
	return ImageConfig{}
}

// VideoSettings returns the video step configuration, zero when absent.
func (c JobConfig) VideoSettings() VideoConfig {
	switch {
	case c.Complete != nil:
		return c.Complete.Video
	case c.VideoFromImage != nil:
		return c.VideoFromImage.Video
	}
	return VideoConfig{}
}

// SourceImageURL returns the supplied image for video-from-image jobs.
func (c JobConfig) SourceImageURL() string {
	if c.VideoFromImage != nil {
		return c.VideoFromImage.SourceImageURL
	}
	return ""
}
