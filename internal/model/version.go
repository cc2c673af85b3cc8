package model

// Version defines a derivative generated from an uploaded image.
type Version struct {
	Name   string            `mapstructure:"name" json:"name"`     // "thumb", "large", ...
	Action string            `mapstructure:"action" json:"action"` // "resize", "thumbnail", "watermark"
	Params map[string]string `mapstructure:"params" json:"params"` // e.g., width/height, watermark text, etc.
}

// VersionFilename returns the stored name of version v of filename.
func VersionFilename(version, filename string) string {
	return version + "_" + filename
}
