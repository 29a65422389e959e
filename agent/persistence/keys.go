package persistence

import (
	"fmt"
	"time"
)

const (
	archiveStampLayout = "20060102T150405"
	folderStampLayout  = "2006-01-02T15-04-05"
)

// SessionKey is the live key of the conversation-wide scope.
func SessionKey(conversationID string) string {
	return conversationID + "/session_context.json"
}

// PatientKey is the live key of one patient's isolated scope.
func PatientKey(conversationID, patientID string) string {
	return fmt.Sprintf("%s/patient_%s_context.json", conversationID, patientID)
}

// ContextKey picks SessionKey or PatientKey.
func ContextKey(conversationID, patientID string) string {
	if patientID == "" {
		return SessionKey(conversationID)
	}
	return PatientKey(conversationID, patientID)
}

// RegistryKey is the live key of the patient registry.
func RegistryKey(conversationID string) string {
	return conversationID + "/patient_context_registry.json"
}

func archiveName(stamp, patientID string) string {
	if patientID == "" {
		return stamp + "_session_archived.json"
	}
	return fmt.Sprintf("%s_patient_%s_archived.json", stamp, patientID)
}

// ArchiveKey is where Archive moves a scope.
func ArchiveKey(conversationID, patientID string, at time.Time) string {
	return conversationID + "/" + archiveName(at.UTC().Format(archiveStampLayout), patientID)
}

// FolderArchiveKey is where ArchiveToFolder moves a scope.
func FolderArchiveKey(folder, conversationID, patientID string, at time.Time) string {
	return folder + "/" + ArchiveKey(conversationID, patientID, at)
}

// RegistryArchiveKey is where ArchiveRegistry moves the registry.
func RegistryArchiveKey(conversationID string, at time.Time) string {
	return fmt.Sprintf("%s/%s_patient_context_registry_archived.json", conversationID, at.UTC().Format(archiveStampLayout))
}

// ArchiveFolder names the folder a full clear archives into, e.g.
// "archive/2025-01-02T03-04-05-123456".
func ArchiveFolder(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("archive/%s-%06d", at.Format(folderStampLayout), at.Nanosecond()/1000)
}
