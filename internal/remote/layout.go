package remote

// Remote document layout, rooted at the project id:
//
//	{projectID}/name, owner, tier, inviteEnabled
//	{projectID}/creators/{userID} = displayName
//	{projectID}/clips/{autoKey} = {id, timestamp, creator}
//	{projectID}/clipIdIndex/{clipID} = true
//
// Blobs live at videos/{clipID} and thumbnails/{clipID}.
const (
	FieldName          = "name"
	FieldOwner         = "owner"
	FieldTier          = "tier"
	FieldInviteEnabled = "inviteEnabled"
	FieldCreators      = "creators"
	FieldClips         = "clips"
	FieldClipIndex     = "clipIdIndex"

	// ClipFieldID is the clip document field queried to find a clip's row.
	ClipFieldID = "id"

	VideoContentType     = "video/mp4"
	ThumbnailContentType = "image/jpeg"
)

// ProjectDoc is the project root written when a project is first materialized.
type ProjectDoc struct {
	Name          string            `json:"name"`
	Owner         string            `json:"owner"`
	Tier          string            `json:"tier"`
	InviteEnabled bool              `json:"inviteEnabled"`
	Creators      map[string]string `json:"creators,omitempty"`
}

// ClipDoc is one entry of the remote clip collection.
type ClipDoc struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Creator   string `json:"creator"`
}

func ProjectPath(projectID string, fields ...string) string {
	return Join(append([]string{projectID}, fields...)...)
}

func ClipsPath(projectID string) string {
	return Join(projectID, FieldClips)
}

func ClipIndexPath(projectID, clipID string) string {
	return Join(projectID, FieldClipIndex, clipID)
}

func CreatorPath(projectID, userID string) string {
	return Join(projectID, FieldCreators, userID)
}

func VideoPath(clipID string) string {
	return Join("videos", clipID)
}

func ThumbnailPath(clipID string) string {
	return Join("thumbnails", clipID)
}
