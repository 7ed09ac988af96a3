package vmconfig

import (
	"fmt"
	"strings"
)

// CloudInitUserData is the only supported cloud-init kind.
const CloudInitUserData = "user_data"

var cloudInitContentTypes = []string{
	"text/cloud-boothook",
	"text/cloud-config",
	"text/cloud-config-archive",
	"text/jinja2",
	"text/part-handler",
	"text/upstart-job",
	"text/x-include-once-url",
	"text/x-include-url",
	"text/x-shellscript",
}

// CloudInitSpec is a declared cloud-init payload.
type CloudInitSpec struct {
	ID       string  `json:"id" yaml:"id"`
	Kind     string  `json:"kind" yaml:"kind"`
	Settings Options `json:"settings" yaml:"settings"`

	ContentType                string `json:"content_type" yaml:"content_type"`
	Path                       string `json:"path,omitempty" yaml:"path,omitempty"`
	Inline                     string `json:"inline,omitempty" yaml:"inline,omitempty"`
	ContentDispositionFilename string `json:"content_disposition_filename,omitempty" yaml:"content_disposition_filename,omitempty"`
}

// Set records a cloud-init setting.
func (ci *CloudInitSpec) Set(key string, value interface{}) {
	if ci.Settings == nil {
		ci.Settings = Options{}
	}
	ci.Settings[key] = value
}

func (ci *CloudInitSpec) clone() *CloudInitSpec {
	out := *ci
	out.Settings = ci.Settings.Clone()
	return &out
}

func mergeCloudInit(base, over *CloudInitSpec) *CloudInitSpec {
	out := over.clone()
	if out.Kind == "" {
		out.Kind = base.Kind
	}
	out.Settings = MergeOptions(base.Settings, over.Settings)
	return out
}

// CloudInit declares a cloud-init payload. kind may be empty. When block is
// non-nil it configures the entry and opts is ignored.
func (c *VMConfig) CloudInit(kind string, opts Options, block func(*CloudInitSpec)) {
	ci := &CloudInitSpec{Kind: kind, Settings: Options{}}
	if block != nil {
		block(ci)
	} else {
		ci.Settings = opts.Clone()
	}
	if id := ci.Settings.String("id"); id != "" {
		ci.ID = id
	} else {
		ci.ID = newID()
	}
	delete(ci.Settings, "id")
	c.cloudInits = append(c.cloudInits, ci)
}

// CloudInitConfigs returns the declared cloud-init payloads in order.
func (c *VMConfig) CloudInitConfigs() []*CloudInitSpec {
	return c.cloudInits
}

// Finalize resolves the typed fields from the settings.
func (ci *CloudInitSpec) Finalize() {
	if ci.Kind == "" {
		ci.Kind = CloudInitUserData
	}
	ci.ContentType = ci.Settings.String("content_type")
	ci.Path = ci.Settings.String("path")
	ci.Inline = ci.Settings.String("inline")
	ci.ContentDispositionFilename = ci.Settings.String("content_disposition_filename")
}

// Validate checks the payload against the machine.
func (ci *CloudInitSpec) Validate(m Machine) []string {
	var errs []string
	if ci.Kind != CloudInitUserData {
		errs = append(errs, fmt.Sprintf("cloud_init type %q is not valid. Please use %q", ci.Kind, CloudInitUserData))
	}

	if ci.ContentType == "" {
		errs = append(errs, "cloud_init requires a content_type")
	} else {
		known := false
		for _, t := range cloudInitContentTypes {
			if t == ci.ContentType {
				known = true
			}
		}
		if !known {
			errs = append(errs, fmt.Sprintf("cloud_init content_type %q is not supported. Please use one of: %s",
				ci.ContentType, strings.Join(cloudInitContentTypes, ", ")))
		}
	}

	switch {
	case ci.Path != "" && ci.Inline != "":
		errs = append(errs, "cloud_init path and inline are mutually exclusive")
	case ci.Path == "" && ci.Inline == "":
		errs = append(errs, "cloud_init requires either a path or inline content")
	case ci.Path != "":
		if !isFile(expandPath(ci.Path, m.RootPath())) {
			errs = append(errs, fmt.Sprintf("cloud_init path %q does not exist", ci.Path))
		}
	}
	return errs
}
