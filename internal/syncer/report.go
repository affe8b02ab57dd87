package syncer

// Report counts what one pass did. Failures are per item and never abort
// the pass.
type Report struct {
	MetadataPushed   int `json:"metadata_pushed"`
	MetadataSkipped  int `json:"metadata_skipped"`
	MetadataFailed   int `json:"metadata_failed"`
	Tombstoned       int `json:"tombstoned"`
	ThumbnailsFailed int `json:"thumbnails_failed"`
	VideosPushed     int `json:"videos_pushed"`
	VideosFailed     int `json:"videos_failed"`
	ClipsDiscovered  int `json:"clips_discovered"`
	ThumbnailsPulled int `json:"thumbnails_pulled"`
	Deleted          int `json:"deleted"`
	VideosPulled     int `json:"videos_pulled"`
	VideosSkipped    int `json:"videos_skipped"`
	Invalidated      int `json:"invalidated"`

	// Published lists clips whose metadata reached the remote in this pass.
	Published []string `json:"published,omitempty"`
}

func (r *Report) Add(o Report) {
	r.MetadataPushed += o.MetadataPushed
	r.MetadataSkipped += o.MetadataSkipped
	r.MetadataFailed += o.MetadataFailed
	r.Tombstoned += o.Tombstoned
	r.ThumbnailsFailed += o.ThumbnailsFailed
	r.VideosPushed += o.VideosPushed
	r.VideosFailed += o.VideosFailed
	r.ClipsDiscovered += o.ClipsDiscovered
	r.ThumbnailsPulled += o.ThumbnailsPulled
	r.Deleted += o.Deleted
	r.VideosPulled += o.VideosPulled
	r.VideosSkipped += o.VideosSkipped
	r.Invalidated += o.Invalidated
	r.Published = append(r.Published, o.Published...)
}
