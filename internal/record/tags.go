package record

// Tag names an attribute of a record, by its DICOM keyword.
type Tag string

// Identifying tags, one per level.
const (
	TagPatientID         Tag = "PatientID"
	TagStudyInstanceUID  Tag = "StudyInstanceUID"
	TagSeriesInstanceUID Tag = "SeriesInstanceUID"
	TagSOPInstanceUID    Tag = "SOPInstanceUID"
)

const (
	TagPatientName      Tag = "PatientName"
	TagPatientBirthDate Tag = "PatientBirthDate"
	TagPatientSex       Tag = "PatientSex"
	TagOtherPatientIDs  Tag = "OtherPatientIDs"

	TagAccessionNumber        Tag = "AccessionNumber"
	TagStudyDate              Tag = "StudyDate"
	TagStudyTime              Tag = "StudyTime"
	TagStudyID                Tag = "StudyID"
	TagStudyDescription       Tag = "StudyDescription"
	TagReferringPhysicianName Tag = "ReferringPhysicianName"
	TagInstitutionName        Tag = "InstitutionName"

	TagModality          Tag = "Modality"
	TagManufacturer      Tag = "Manufacturer"
	TagStationName       Tag = "StationName"
	TagSeriesDate        Tag = "SeriesDate"
	TagSeriesTime        Tag = "SeriesTime"
	TagSeriesNumber      Tag = "SeriesNumber"
	TagSeriesDescription Tag = "SeriesDescription"
	TagBodyPartExamined  Tag = "BodyPartExamined"
	TagProtocolName      Tag = "ProtocolName"

	TagInstanceNumber       Tag = "InstanceNumber"
	TagInstanceCreationDate Tag = "InstanceCreationDate"
	TagInstanceCreationTime Tag = "InstanceCreationTime"
	TagAcquisitionNumber    Tag = "AcquisitionNumber"
	TagNumberOfFrames       Tag = "NumberOfFrames"
	TagImagePosition        Tag = "ImagePositionPatient"
	TagSOPClassUID          Tag = "SOPClassUID"
)

// mainTags are the display attributes stored for each level.
var mainTags = map[Level][]Tag{
	LevelPatient: {
		TagPatientID, TagPatientName, TagPatientBirthDate, TagPatientSex, TagOtherPatientIDs,
	},
	LevelStudy: {
		TagStudyInstanceUID, TagAccessionNumber, TagStudyDate, TagStudyTime, TagStudyID,
		TagStudyDescription, TagReferringPhysicianName, TagInstitutionName,
	},
	LevelSeries: {
		TagSeriesInstanceUID, TagModality, TagManufacturer, TagStationName, TagSeriesDate,
		TagSeriesTime, TagSeriesNumber, TagSeriesDescription, TagBodyPartExamined, TagProtocolName,
	},
	LevelInstance: {
		TagSOPInstanceUID, TagInstanceNumber, TagInstanceCreationDate, TagInstanceCreationTime,
		TagAcquisitionNumber, TagNumberOfFrames, TagImagePosition, TagSOPClassUID,
	},
}

// identifierTags are the searchable attributes of each level, not counting
// the patient tags duplicated below the patient level.
var identifierTags = map[Level][]Tag{
	LevelPatient:  {TagPatientID, TagPatientName, TagPatientBirthDate},
	LevelStudy:    {TagStudyInstanceUID, TagAccessionNumber, TagStudyDescription, TagStudyDate},
	LevelSeries:   {TagSeriesInstanceUID},
	LevelInstance: {TagSOPInstanceUID},
}

// technicalTags keep exact-match semantics and are never normalized.
var technicalTags = map[Tag]bool{
	TagPatientID:         true,
	TagStudyInstanceUID:  true,
	TagSeriesInstanceUID: true,
	TagSOPInstanceUID:    true,
	TagAccessionNumber:   true,
}

// MainTags returns the display attributes of a level.
func MainTags(level Level) []Tag {
	return mainTags[level]
}

// IdentifierTags returns the searchable attributes native to a level.
func IdentifierTags(level Level) []Tag {
	return identifierTags[level]
}

// IsTechnical reports whether tag is stored verbatim as an identifier.
func IsTechnical(tag Tag) bool {
	return technicalTags[tag]
}

// IdentifyingTag returns the tag whose value names a resource at level.
func IdentifyingTag(level Level) Tag {
	switch level {
	case LevelPatient:
		return TagPatientID
	case LevelStudy:
		return TagStudyInstanceUID
	case LevelSeries:
		return TagSeriesInstanceUID
	default:
		return TagSOPInstanceUID
	}
}
