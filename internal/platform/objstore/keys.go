package objstore

import (
	"fmt"
	"strings"
)

// Canonical artifact layout under a venue prefix:
//
//	{venue_id}/venue_model.blend
//	{venue_id}/preview.png
//	{venue_id}/seats.json
//	{venue_id}/anchor_seats.json
//	{venue_id}/depth_maps/{seat_id}_depth.png
//	{venue_id}/final_images/{seat_id}_final.jpg

func ModelKey(venueID string) string { return venueID + "/venue_model.blend" }

func PreviewKey(venueID string) string { return venueID + "/preview.png" }

func SeatsKey(venueID string) string { return venueID + "/seats.json" }

func AnchorSeatsKey(venueID string) string { return venueID + "/anchor_seats.json" }

func DepthKey(venueID, seatID string) string {
	return fmt.Sprintf("%s/depth_maps/%s_depth.png", venueID, seatID)
}

func FinalKey(venueID, seatID string) string {
	return fmt.Sprintf("%s/final_images/%s_final.jpg", venueID, seatID)
}

func DepthPrefix(venueID string) string { return venueID + "/depth_maps/" }

func FinalPrefix(venueID string) string { return venueID + "/final_images/" }

// SeatIDFromDepthKey recovers the seat id from a depth map key. The second
// return is false for keys that do not match the depth layout.
func SeatIDFromDepthKey(key string) (string, bool) {
	return seatIDFromKey(key, "/depth_maps/", "_depth.png")
}

// SeatIDFromFinalKey recovers the seat id from a final image key.
func SeatIDFromFinalKey(key string) (string, bool) {
	return seatIDFromKey(key, "/final_images/", "_final.jpg")
}

func seatIDFromKey(key, dir, suffix string) (string, bool) {
	idx := strings.Index(key, dir)
	if idx < 0 {
		return "", false
	}
	name := key[idx+len(dir):]
	if !strings.HasSuffix(name, suffix) || strings.Contains(name, "/") {
		return "", false
	}
	id := strings.TrimSuffix(name, suffix)
	if id == "" {
		return "", false
	}
	return id, true
}
