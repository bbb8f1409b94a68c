package telemetry

// Fields read by the controllers.
const (
	CabinetNumber            = "cabinetNumber"
	Mode                     = "mode"
	OperationState           = "operationState"
	HealthState              = "healthState"
	BreakerState             = "breakerState"
	ChassisPosition          = "chassisPosition"
	GroundingState           = "groundingState"
	EnergyStorageState       = "energyStorageState"
	ClosingOperationsNum     = "closingOperationsNum"
	OpeningOperationsNum     = "openingOperationsNum"
	GroundingSwitchNum       = "groundingSwitchNum"
	ChassisVehicleNum        = "chassisVehicleNum"
	CurrentOperation         = "currentOperation"
	OpeningSpeed             = "openingSpeed"
	OpeningTime              = "openingTime"
	OpeningTotalTravel       = "openingTotalTravel"
	OpeningDistance          = "openingDistance"
	OpeningOverTravel        = "openingOverTravel"
	OpeningMaxCurrent        = "openingMaxCurrent"
	ClosingSpeed             = "closingSpeed"
	ClosingTime              = "closingTime"
	ClosingTotalTravel       = "closingTotalTravel"
	ClosingDistance          = "closingDistance"
	ClosingOverTravel        = "closingOverTravel"
	ClosingMaxCurrent        = "closingMaxCurrent"
	BreakerUpperATemperature = "breakerUpperATemperature"
	BreakerUpperBTemperature = "breakerUpperBTemperature"
	BreakerUpperCTemperature = "breakerUpperCTemperature"
	BreakerLowerATemperature = "breakerLowerATemperature"
	BreakerLowerBTemperature = "breakerLowerBTemperature"
	BreakerLowerCTemperature = "breakerLowerCTemperature"
	MainBusbarATemperature   = "mainBusbarATemperature"
	MainBusbarBTemperature   = "mainBusbarBTemperature"
	MainBusbarCTemperature   = "mainBusbarCTemperature"
	OutletCableATemperature  = "outletCableATemperature"
	OutletCableBTemperature  = "outletCableBTemperature"
	OutletCableCTemperature  = "outletCableCTemperature"
	BreakerRoomTemperature   = "breakerTemperature"
	BreakerRoomHumidity      = "breakerHumidity"
	Ultrasonic               = "ultrasonicVal"
	TransientEarthVoltage    = "transientGroundWaveVal"
	CableRoomHumidity        = "cableHumidity"
	CableRoomTemperature     = "cableTemperature"
)

// FieldNames lists every field in register order. The poll reads one
// register per field starting at 0x1000.
var FieldNames = []string{
	"Uab", "Ubc", "Uca", "ia", "ib", "ic", "f", "yggl_high", "yggl_low", "wggl_high",
	"wggl_low", "glys", "cabinetNumber", "mode", "operationState", "healthState",
	"breakerState", "chassisPosition", "groundingState", "energyStorageState", "reserve3",
	"reserve4", "reserve5", "reserve6", "closingOperationsNum", "openingOperationsNum",
	"groundingSwitchNum", "chassisVehicleNum", "energyStorageTime",
	"energyStorageMotorMaxElectric", "chassisVehicleActionTime",
	"chassisVehicleMotorMaxElectric", "groundingSwitchActionTime",
	"groundingSwitchMotorMaxElectric", "currentOperation", "openingSpeed", "openingTime",
	"openingTotalTravel", "openingDistance", "openingOverTravel", "openingMaxCurrent",
	"closingSpeed", "closingTime", "closingTotalTravel", "closingDistance",
	"closingOverTravel", "closingMaxCurrent", "reserve19", "reserve20", "reserve21",
	"reserve22", "reserve23", "breakerUpperATemperature", "breakerUpperBTemperature",
	"breakerUpperCTemperature", "breakerLowerATemperature", "breakerLowerBTemperature",
	"breakerLowerCTemperature", "mainBusbarATemperature", "mainBusbarBTemperature",
	"mainBusbarCTemperature", "outletCableATemperature", "outletCableBTemperature",
	"outletCableCTemperature", "reserve24", "reserve25", "reserve26", "reserve27",
	"reserve28", "breakerTemperature", "breakerHumidity", "ultrasonicVal",
	"transientGroundWaveVal", "cableHumidity", "cableTemperature", "airTightTemperature",
	"airTightPressure", "airtightMeterGasDensity", "reserve29", "reserve30", "reserve31",
	"reserve32", "reserve33", "reserve34",
}

// FieldCount is the number of registers in one poll.
var FieldCount = len(FieldNames)

// Device state codes.
const (
	StateOff = "0"
	StateOn  = "1"
	// StateMidTravel is only reported by the chassis while moving.
	StateMidTravel = "2"
)

// Chassis positions.
const (
	ChassisTest = StateOff
	ChassisWork = StateOn
)

// ContactTemperatureFields are the twelve contact and busbar temperatures,
// stored as tenths of a degree.
var ContactTemperatureFields = []string{
	BreakerUpperATemperature, BreakerUpperBTemperature, BreakerUpperCTemperature,
	BreakerLowerATemperature, BreakerLowerBTemperature, BreakerLowerCTemperature,
	MainBusbarATemperature, MainBusbarBTemperature, MainBusbarCTemperature,
	OutletCableATemperature, OutletCableBTemperature, OutletCableCTemperature,
}

// DischargeFields are the partial discharge and room climate readings.
var DischargeFields = []string{
	BreakerRoomTemperature, BreakerRoomHumidity, Ultrasonic,
	TransientEarthVoltage, CableRoomTemperature, CableRoomHumidity,
}

var fieldIndex = func() map[string]int {
	m := make(map[string]int, len(FieldNames))
	for i, n := range FieldNames {
		m[n] = i
	}
	return m
}()

// IsField reports whether name is a known register field.
func IsField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}
