package grapp

// trainsResponse is the JSON body of GetTrainsWithFilter.
type trainsResponse struct {
	Trains []trainEntry `json:"Trains"`
}

// trainEntry is one in-transit train of the list.
type trainEntry struct {
	ID    int64  `json:"Id"`
	Title string `json:"Title"`
}

// trainFilter restricts the train list to passenger trains of every
// carrier; the shape is what the grapp web client sends.
type trainFilter struct {
	CarrierCode          []string `json:"CarrierCode"`
	PublicKindOfTrain    []string `json:"PublicKindOfTrain"`
	FreightKindOfTrain   []string `json:"FreightKindOfTrain"`
	TrainRunning         bool     `json:"TrainRunning"`
	TrainNoChange        int      `json:"TrainNoChange"`
	TrainOutOfOrder      bool     `json:"TrainOutOfOrder"`
	Delay                []string `json:"Delay"`
	DelayMin             int      `json:"DelayMin"`
	DelayMax             int      `json:"DelayMax"`
	SearchByTrainNumber  bool     `json:"SearchByTrainNumber"`
	SearchExtraTrain     bool     `json:"SearchExtraTrain"`
	SearchByTrainName    bool     `json:"SearchByTrainName"`
	SearchByTRID         bool     `json:"SearchByTRID"`
	SearchByVehicleNumbr bool     `json:"SearchByVehicleNumber"`
	SearchTextType       string   `json:"SearchTextType"`
	SearchPhrase         string   `json:"SearchPhrase"`
	SelectedTrain        int      `json:"SelectedTrain"`
}

// defaultCarrierCodes lists every carrier the web client offers.
var defaultCarrierCodes = []string{
	"991919", "992230", "992719", "993030", "990010", "993188", "991943",
	"991950", "991075", "993196", "992693", "991638", "991976", "993089",
	"993162", "991257", "991935", "991562", "991125", "992644", "992842",
	"991927", "993170", "991810", "992909", "991612", "f_o_r_e_i_g_n",
}

// passengerKinds lists the public train categories.
var passengerKinds = []string{
	"LE", "Ex", "Sp", "rj", "TL", "EC", "SC", "AEx", "Os", "Rx", "TLX",
	"IC", "EN", "R", "RJ", "nj", "LET",
}

func defaultTrainFilter() trainFilter {
	return trainFilter{
		CarrierCode:         defaultCarrierCodes,
		PublicKindOfTrain:   passengerKinds,
		FreightKindOfTrain:  []string{},
		Delay:               []string{"0", "60", "5", "61", "15", "-1", "30"},
		DelayMin:            -99999,
		DelayMax:            -99999,
		SearchByTrainNumber: true,
		SearchByTrainName:   true,
		SearchTextType:      "0",
		SelectedTrain:       -1,
	}
}
