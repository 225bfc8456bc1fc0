package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jordiportal/japan-guide/models"
)

// CoordTolerance is the maximum per-axis difference, in degrees, under
// which two coordinate pairs are considered the same point during import
// deduplication. Roughly one metre at Japanese latitudes.
const CoordTolerance = 0.00001

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// New creates a new database connection
func New(config Config) (*DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := Migrate(conn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

// UpsertFolder returns the folder with the given name, creating it when
// it does not exist yet.
func (db *DB) UpsertFolder(name string) (*models.Folder, error) {
	var folder models.Folder
	err := db.conn.QueryRow(
		"SELECT id, name, created_at FROM folders WHERE name = $1",
		name,
	).Scan(&folder.ID, &folder.Name, &folder.CreatedAt)
	if err == nil {
		return &folder, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query folder: %w", err)
	}

	folder = models.Folder{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err = db.conn.Exec(
		"INSERT INTO folders (id, name, created_at) VALUES ($1, $2, $3)",
		folder.ID, folder.Name, folder.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert folder: %w", err)
	}

	return &folder, nil
}

// FindPlaceForImport looks for an existing place that an imported
// placemark should update instead of duplicating: same folder, same
// primary name, and coordinates within CoordTolerance on both axes.
// When several rows match, the lowest id wins so re-imports always pick
// the same row.
func (db *DB) FindPlaceForImport(folderID, nameCA string, lat, lng float64) (*models.Place, error) {
	query := `
		SELECT ` + placeColumns + `
		FROM places
		WHERE folder_id = $1
		  AND name_ca = $2
		  AND ABS(latitude - $3) < $5
		  AND ABS(longitude - $4) < $5
		ORDER BY id
		LIMIT 1
	`

	place, err := scanPlace(db.conn.QueryRow(query, folderID, nameCA, lat, lng, CoordTolerance))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query place for import: %w", err)
	}

	return place, nil
}

// InsertPlace stores a new place.
func (db *DB) InsertPlace(place *models.Place) error {
	exifJSON, err := marshalEXIF(place.ImageEXIF)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO places (
			id, name_ca, name_ja, description_ca, description_ja,
			folder_id, latitude, longitude,
			image_url, local_image_path, image_width, image_height, image_type, image_exif,
			source, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = db.conn.Exec(
		query,
		place.ID,
		place.NameCA,
		nullString(place.NameJA),
		nullString(place.DescriptionCA),
		nullString(place.DescriptionJA),
		nullString(place.FolderID),
		place.Latitude,
		place.Longitude,
		nullString(place.ImageURL),
		nullString(place.LocalImagePath),
		nullInt(place.ImageWidth),
		nullInt(place.ImageHeight),
		nullString(place.ImageType),
		exifJSON,
		place.Source,
		place.CreatedAt,
		place.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert place: %w", err)
	}

	return nil
}

// UpdatePlaceFromImport refreshes the imported fields of an existing
// place. The remote image URL only fills in when the row has none yet,
// so a re-import never clobbers an image resolved by enrichment.
func (db *DB) UpdatePlaceFromImport(place *models.Place) error {
	query := `
		UPDATE places SET
			name_ja = $2,
			description_ca = $3,
			description_ja = $4,
			image_url = COALESCE(NULLIF(image_url, ''), NULLIF($5, '')),
			updated_at = $6
		WHERE id = $1
	`

	_, err := db.conn.Exec(
		query,
		place.ID,
		nullString(place.NameJA),
		nullString(place.DescriptionCA),
		nullString(place.DescriptionJA),
		place.ImageURL,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update place from import: %w", err)
	}

	return nil
}

// UpsertTag returns the tag with the given name, creating it with the
// given color when it does not exist. An existing tag keeps its color.
func (db *DB) UpsertTag(name, color string) (*models.Tag, error) {
	var tag models.Tag
	err := db.conn.QueryRow(
		"SELECT id, name, color FROM tags WHERE name = $1",
		name,
	).Scan(&tag.ID, &tag.Name, &tag.Color)
	if err == nil {
		return &tag, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query tag: %w", err)
	}

	tag = models.Tag{
		ID:    uuid.New().String(),
		Name:  name,
		Color: color,
	}
	_, err = db.conn.Exec(
		"INSERT INTO tags (id, name, color) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING",
		tag.ID, tag.Name, tag.Color,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tag: %w", err)
	}

	return &tag, nil
}

// LinkPlaceTag attaches a tag to a place. Linking twice is a no-op.
func (db *DB) LinkPlaceTag(placeID, tagID string) error {
	_, err := db.conn.Exec(
		"INSERT INTO place_tags (place_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		placeID, tagID,
	)
	if err != nil {
		return fmt.Errorf("failed to link place tag: %w", err)
	}
	return nil
}

// ListPlacesWithoutImage returns up to limit places that have no local
// image copy yet, oldest first.
func (db *DB) ListPlacesWithoutImage(limit int) ([]*models.Place, error) {
	query := `
		SELECT ` + placeColumns + `
		FROM places
		WHERE local_image_path IS NULL OR local_image_path = ''
		ORDER BY created_at, id
		LIMIT $1
	`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query places without image: %w", err)
	}
	defer rows.Close()

	return scanPlaces(rows)
}

// UpdatePlaceImage records a downloaded image on a place: local path
// and metadata always, the remote URL only when the row has none.
func (db *DB) UpdatePlaceImage(placeID, imageURL, localPath string, width, height int, imageType string, exif *models.EXIFData) error {
	exifJSON, err := marshalEXIF(exif)
	if err != nil {
		return err
	}

	query := `
		UPDATE places SET
			image_url = COALESCE(NULLIF(image_url, ''), NULLIF($2, '')),
			local_image_path = $3,
			image_width = $4,
			image_height = $5,
			image_type = $6,
			image_exif = $7,
			updated_at = $8
		WHERE id = $1
	`

	_, err = db.conn.Exec(
		query,
		placeID,
		imageURL,
		localPath,
		nullInt(width),
		nullInt(height),
		nullString(imageType),
		exifJSON,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update place image: %w", err)
	}

	return nil
}

// PlaceFilter narrows ListPlaces. Zero values mean "no filter".
type PlaceFilter struct {
	FolderID string // exact folder id
	Query    string // case-insensitive substring of name_ca or name_ja
	Tag      string // exact tag name
}

// ListPlaces returns places matching the filter, newest first.
func (db *DB) ListPlaces(filter PlaceFilter) ([]*models.Place, error) {
	var conditions []string
	var args []interface{}

	if filter.FolderID != "" {
		args = append(args, filter.FolderID)
		conditions = append(conditions, fmt.Sprintf("p.folder_id = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		conditions = append(conditions, fmt.Sprintf("(p.name_ca ILIKE $%d OR p.name_ja ILIKE $%d)", len(args), len(args)))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM place_tags pt JOIN tags t ON t.id = pt.tag_id WHERE pt.place_id = p.id AND t.name = $%d)",
			len(args)))
	}

	query := "SELECT " + prefixColumns("p", placeColumns) + " FROM places p"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	return scanPlaces(rows)
}

// GetPlaceByID returns a single place, or nil when it does not exist.
func (db *DB) GetPlaceByID(id string) (*models.Place, error) {
	query := "SELECT " + placeColumns + " FROM places WHERE id = $1"

	place, err := scanPlace(db.conn.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query place: %w", err)
	}

	return place, nil
}

// ListTagsByPlace returns the tags attached to a place, ordered by name.
func (db *DB) ListTagsByPlace(placeID string) ([]models.Tag, error) {
	rows, err := db.conn.Query(`
		SELECT t.id, t.name, t.color
		FROM tags t
		JOIN place_tags pt ON pt.tag_id = t.id
		WHERE pt.place_id = $1
		ORDER BY t.name
	`, placeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query place tags: %w", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

// ListFolders returns all folders ordered by name.
func (db *DB) ListFolders() ([]models.Folder, error) {
	rows, err := db.conn.Query("SELECT id, name, created_at FROM folders ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	folders := []models.Folder{}
	for rows.Next() {
		var folder models.Folder
		if err := rows.Scan(&folder.ID, &folder.Name, &folder.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, folder)
	}

	return folders, rows.Err()
}

// ListTags returns all tags ordered by name.
func (db *DB) ListTags() ([]models.Tag, error) {
	rows, err := db.conn.Query("SELECT id, name, color FROM tags ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

// AddVote records one like from one device. Voting twice from the same
// device is a no-op; the returned bool reports whether a row was added.
func (db *DB) AddVote(placeID, deviceID string) (bool, error) {
	result, err := db.conn.Exec(`
		INSERT INTO votes (place_id, device_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, placeID, deviceID, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to add vote: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read vote result: %w", err)
	}

	return affected > 0, nil
}

// CountVotes returns the number of votes a place has received.
func (db *DB) CountVotes(placeID string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM votes WHERE place_id = $1", placeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}

// CountPlaces returns the total number of places.
func (db *DB) CountPlaces() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM places").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count places: %w", err)
	}
	return count, nil
}

// CountPlacesWithoutImage returns how many places still lack a local
// image copy.
func (db *DB) CountPlacesWithoutImage() (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM places WHERE local_image_path IS NULL OR local_image_path = ''",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count places without image: %w", err)
	}
	return count, nil
}

const placeColumns = `id, name_ca, name_ja, description_ca, description_ja,
	folder_id, latitude, longitude,
	image_url, local_image_path, image_width, image_height, image_type, image_exif,
	source, created_at, updated_at`

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlace(row rowScanner) (*models.Place, error) {
	var place models.Place
	var nameJA, descCA, descJA, folderID sql.NullString
	var imageURL, localPath, imageType, exifJSON sql.NullString
	var width, height sql.NullInt64

	err := row.Scan(
		&place.ID,
		&place.NameCA,
		&nameJA,
		&descCA,
		&descJA,
		&folderID,
		&place.Latitude,
		&place.Longitude,
		&imageURL,
		&localPath,
		&width,
		&height,
		&imageType,
		&exifJSON,
		&place.Source,
		&place.CreatedAt,
		&place.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	place.NameJA = nameJA.String
	place.DescriptionCA = descCA.String
	place.DescriptionJA = descJA.String
	place.FolderID = folderID.String
	place.ImageURL = imageURL.String
	place.LocalImagePath = localPath.String
	place.ImageWidth = int(width.Int64)
	place.ImageHeight = int(height.Int64)
	place.ImageType = imageType.String

	if exifJSON.Valid && exifJSON.String != "" {
		var exif models.EXIFData
		if err := json.Unmarshal([]byte(exifJSON.String), &exif); err == nil {
			place.ImageEXIF = &exif
		}
	}

	return &place, nil
}

func scanPlaces(rows *sql.Rows) ([]*models.Place, error) {
	places := []*models.Place{}
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, place)
	}
	return places, rows.Err()
}

func marshalEXIF(exif *models.EXIFData) (sql.NullString, error) {
	if exif == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(exif)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal EXIF: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
