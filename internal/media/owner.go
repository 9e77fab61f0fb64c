package media

import (
	"fmt"
	"strconv"

	"github.com/vonshlovens/fieldsync/internal/db"
)

// OwnerKind is the record type a photo can be attached to
type OwnerKind string

const (
	OwnerAssessmentItem   OwnerKind = OwnerKind(db.KindAssessmentItem)
	OwnerAssessmentMaster OwnerKind = OwnerKind(db.KindAssessmentMaster)
	OwnerAppointment      OwnerKind = OwnerKind(db.KindAppointment)
)

// Owner references the record a photo belongs to. The kind is stored as the
// media row's entity name.
type Owner struct {
	Kind OwnerKind
	ID   int64
}

func ItemOwner(id int64) Owner        { return Owner{Kind: OwnerAssessmentItem, ID: id} }
func MasterOwner(id int64) Owner      { return Owner{Kind: OwnerAssessmentMaster, ID: id} }
func AppointmentOwner(id int64) Owner { return Owner{Kind: OwnerAppointment, ID: id} }

// ParseOwner validates an (entity name, id) pair
func ParseOwner(entityName string, id int64) (Owner, error) {
	switch k := OwnerKind(entityName); k {
	case OwnerAssessmentItem, OwnerAssessmentMaster, OwnerAppointment:
		return Owner{Kind: k, ID: id}, nil
	}
	return Owner{}, fmt.Errorf("unknown media owner kind %q", entityName)
}

// EntityName is the wire and storage name of the owner kind
func (o Owner) EntityName() string {
	return string(o.Kind)
}

func (o Owner) String() string {
	return o.EntityName() + "/" + strconv.FormatInt(o.ID, 10)
}
