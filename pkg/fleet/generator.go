// Package fleet serves synthetic vehicle telemetry used to load-test map
// clients alongside the tile proxy.
package fleet

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Speed is a measured vehicle speed.
type Speed struct {
	Val             int    `json:"val"`
	UnitMeasurement string `json:"unit_measurement"`
}

// Asset describes the tracked vehicle itself.
type Asset struct {
	Horimeter   int    `json:"horimeter"`
	Consume     int    `json:"consume"`
	Model       string `json:"model"`
	Type        int    `json:"type"`
	Description string `json:"description"`
	Fuel        string `json:"fuel"`
	Producer    string `json:"producer"`
	Odometer    int    `json:"odometer"`
	Plate       string `json:"plate"`
	AtivoName   string `json:"ativo_name"`
	Color       string `json:"color"`
}

// Vehicle is one telemetry snapshot in the wire format map clients consume.
type Vehicle struct {
	Speed          Speed          `json:"speed"`
	ClientID       int            `json:"client_id"`
	Direction      int            `json:"direction"`
	LatLng         [2]float64     `json:"lat_lng"`
	Validate       int            `json:"validate"`
	AtivoID        int            `json:"ativo_id"`
	IsBloqued      int            `json:"is_bloqued"`
	Ativo          Asset          `json:"ativo"`
	FieldExtra     map[string]any `json:"field_extra"`
	TrackerMessage *string        `json:"tracker_message"`
	DtGPS          string         `json:"dt_gps"`
	Ignition       int            `json:"ignition"`
}

var (
	models    = []string{"Fiorino", "Civic", "Corolla", "HB20", "Onix", "Argo", "Ka", "Gol"}
	colors    = []string{"Branca", "Prata", "Preta", "Azul", "Vermelha", "Verde"}
	producers = []string{"Fiat", "Honda", "Toyota", "Hyundai", "Chevrolet", "Ford", "Volkswagen"}
	fuelTypes = []string{"1", "2", "3"} // 1=gasoline, 2=diesel, 3=flex
	plateRuns = []string{"ABC", "DEF", "GHI", "JKL", "MNO"}
)

// NewVehicle generates one random vehicle snapshot positioned within the
// greater São Paulo bounding box.
func NewVehicle() Vehicle {
	lat := round6(-23.8 + rand.Float64()*0.5)
	lng := round6(-47.0 + rand.Float64()*0.7)

	model := models[rand.IntN(len(models))]
	plate := fmt.Sprintf("%s%d", plateRuns[rand.IntN(len(plateRuns))], 1000+rand.IntN(9000))

	return Vehicle{
		Speed:     Speed{Val: rand.IntN(121), UnitMeasurement: "km/h"},
		ClientID:  1000 + rand.IntN(9000),
		Direction: rand.IntN(360),
		LatLng:    [2]float64{lat, lng},
		Validate:  1,
		AtivoID:   1000 + rand.IntN(9000),
		IsBloqued: rand.IntN(2),
		Ativo: Asset{
			Horimeter:   rand.IntN(10001),
			Consume:     5 + rand.IntN(16),
			Model:       model,
			Type:        1 + rand.IntN(5),
			Description: fmt.Sprintf("%s - %s", plate, strings.ToUpper(model)),
			Fuel:        fuelTypes[rand.IntN(len(fuelTypes))],
			Producer:    producers[rand.IntN(len(producers))],
			Odometer:    rand.IntN(200001),
			Plate:       plate,
			AtivoName:   strings.ToUpper(model),
			Color:       colors[rand.IntN(len(colors))],
		},
		FieldExtra:     map[string]any{},
		TrackerMessage: nil,
		DtGPS:          time.Now().Format("02/01/2006 15:04:05"),
		Ignition:       rand.IntN(2),
	}
}

// Generate returns n random vehicle snapshots.
func Generate(n int) []Vehicle {
	vehicles := make([]Vehicle, n)
	for i := range vehicles {
		vehicles[i] = NewVehicle()
	}
	return vehicles
}

// Columnar is the column-oriented form of a vehicle batch. One slice per
// field, all of equal length, cheaper for clients to decode than an array of
// nested objects.
type Columnar struct {
	SpeedVal         []int            `json:"speed_val"`
	SpeedUnit        []string         `json:"speed_unit"`
	ClientID         []int            `json:"client_id"`
	Direction        []int            `json:"direction"`
	Lat              []float64        `json:"lat"`
	Lng              []float64        `json:"lng"`
	Validate         []int            `json:"validate"`
	AtivoID          []int            `json:"ativo_id"`
	IsBloqued        []int            `json:"is_bloqued"`
	AtivoHorimeter   []int            `json:"ativo_horimeter"`
	AtivoConsume     []int            `json:"ativo_consume"`
	AtivoModel       []string         `json:"ativo_model"`
	AtivoType        []int            `json:"ativo_type"`
	AtivoDescription []string         `json:"ativo_description"`
	AtivoFuel        []string         `json:"ativo_fuel"`
	AtivoProducer    []string         `json:"ativo_producer"`
	AtivoOdometer    []int            `json:"ativo_odometer"`
	AtivoPlate       []string         `json:"ativo_plate"`
	AtivoName        []string         `json:"ativo_name"`
	AtivoColor       []string         `json:"ativo_color"`
	FieldExtra       []map[string]any `json:"field_extra"`
	TrackerMessage   []*string        `json:"tracker_message"`
	DtGPS            []string         `json:"dt_gps"`
	Ignition         []int            `json:"ignition"`
}

// ToColumnar transposes a vehicle batch into its column-oriented form.
func ToColumnar(vehicles []Vehicle) *Columnar {
	n := len(vehicles)
	c := &Columnar{
		SpeedVal:         make([]int, 0, n),
		SpeedUnit:        make([]string, 0, n),
		ClientID:         make([]int, 0, n),
		Direction:        make([]int, 0, n),
		Lat:              make([]float64, 0, n),
		Lng:              make([]float64, 0, n),
		Validate:         make([]int, 0, n),
		AtivoID:          make([]int, 0, n),
		IsBloqued:        make([]int, 0, n),
		AtivoHorimeter:   make([]int, 0, n),
		AtivoConsume:     make([]int, 0, n),
		AtivoModel:       make([]string, 0, n),
		AtivoType:        make([]int, 0, n),
		AtivoDescription: make([]string, 0, n),
		AtivoFuel:        make([]string, 0, n),
		AtivoProducer:    make([]string, 0, n),
		AtivoOdometer:    make([]int, 0, n),
		AtivoPlate:       make([]string, 0, n),
		AtivoName:        make([]string, 0, n),
		AtivoColor:       make([]string, 0, n),
		FieldExtra:       make([]map[string]any, 0, n),
		TrackerMessage:   make([]*string, 0, n),
		DtGPS:            make([]string, 0, n),
		Ignition:         make([]int, 0, n),
	}

	for _, v := range vehicles {
		c.SpeedVal = append(c.SpeedVal, v.Speed.Val)
		c.SpeedUnit = append(c.SpeedUnit, v.Speed.UnitMeasurement)
		c.ClientID = append(c.ClientID, v.ClientID)
		c.Direction = append(c.Direction, v.Direction)
		c.Lat = append(c.Lat, v.LatLng[0])
		c.Lng = append(c.Lng, v.LatLng[1])
		c.Validate = append(c.Validate, v.Validate)
		c.AtivoID = append(c.AtivoID, v.AtivoID)
		c.IsBloqued = append(c.IsBloqued, v.IsBloqued)
		c.AtivoHorimeter = append(c.AtivoHorimeter, v.Ativo.Horimeter)
		c.AtivoConsume = append(c.AtivoConsume, v.Ativo.Consume)
		c.AtivoModel = append(c.AtivoModel, v.Ativo.Model)
		c.AtivoType = append(c.AtivoType, v.Ativo.Type)
		c.AtivoDescription = append(c.AtivoDescription, v.Ativo.Description)
		c.AtivoFuel = append(c.AtivoFuel, v.Ativo.Fuel)
		c.AtivoProducer = append(c.AtivoProducer, v.Ativo.Producer)
		c.AtivoOdometer = append(c.AtivoOdometer, v.Ativo.Odometer)
		c.AtivoPlate = append(c.AtivoPlate, v.Ativo.Plate)
		c.AtivoName = append(c.AtivoName, v.Ativo.AtivoName)
		c.AtivoColor = append(c.AtivoColor, v.Ativo.Color)
		c.FieldExtra = append(c.FieldExtra, v.FieldExtra)
		c.TrackerMessage = append(c.TrackerMessage, v.TrackerMessage)
		c.DtGPS = append(c.DtGPS, v.DtGPS)
		c.Ignition = append(c.Ignition, v.Ignition)
	}

	return c
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
